package envs

import (
	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/input"
)

// bandit is a single-participant three-armed bandit: pick an arm each step,
// collect its fixed payout. The episode truncates after a fixed number of
// pulls; there is no termination condition.
const banditBootstrap = `
var env = (function () {
	var PAYOUTS = [0, 0.5, 1];
	var PULLS = 30;

	var pulls = 0;
	var total = 0;

	return {
		reset: function () {
			pulls = 0;
			total = 0;
			return [
				{ "0": { pulls: 0, last_payout: 0, total: 0 } },
				{ "0": {} }
			];
		},

		step: function (actions) {
			pulls += 1;
			var arm = actions[0];
			var payout = PAYOUTS[arm] !== undefined ? PAYOUTS[arm] : 0;
			total += payout;

			var done = pulls >= PULLS;
			return [
				{ "0": { pulls: pulls, last_payout: payout, total: total } },
				{ "0": payout },
				{ "0": false },
				{ "0": done },
				{ "0": { arm: arm } }
			];
		},

		render: function () {
			var objects = [];
			for (var i = 0; i < PAYOUTS.length; i++) {
				objects.push({
					uuid: "arm-" + i,
					object_type: "sprite",
					x: 60 + i * 120,
					y: 180,
					height: 96,
					width: 64,
					image_name: "lever",
					frame: null,
					depth: 1,
					permanent: false
				});
			}
			objects.push({
				uuid: "total",
				object_type: "text",
				text: "Total: " + total,
				x: 20,
				y: 20,
				size: 18,
				color: "#ffffff",
				font: "Arial",
				depth: 2,
				permanent: false
			});
			return objects;
		}
	};
})();
`

func banditConfig() *configs.Config {
	return configs.New("bandit").
		Environment(configs.EnvironmentSection{EnvName: "bandit"}).
		Gameplay(configs.GameplaySection{
			NumEpisodes:   2,
			MaxSteps:      30,
			FPS:           5,
			DefaultAction: 0,
			ActionMapping: map[string]any{
				"Digit1": 0,
				"Digit2": 1,
				"Digit3": 2,
			},
			InputMode: input.ModeSingleKeystroke,
			ActionSet: []any{0, 1, 2},
		}).
		Policies(configs.PolicySection{
			Mapping: map[string]string{"0": "human"},
			Task:    "Pull the arm with the highest payout.",
		}).
		Rendering(configs.RenderingSection{
			GameWidth:  400,
			GameHeight: 300,
			Background: "#1e1e1e",
		})
}

func init() {
	Register(Environment{
		Name:          "bandit",
		Description:   "Single-participant three-armed bandit.",
		Bootstrap:     banditBootstrap,
		DefaultConfig: banditConfig,
	})
}
