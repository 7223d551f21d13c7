package envs

import (
	"github.com/brazhou04/interactive-gym/internal/configs"
	"github.com/brazhou04/interactive-gym/internal/input"
)

// gridworld is a two-participant cooperative delivery task on a 7x7 grid.
// Each participant walks its parcel to the shared dropoff tile; a delivery
// pays +1 to both. A participant terminates after its delivery; the episode
// truncates at the horizon.
const gridworldBootstrap = `
var env = (function () {
	var SIZE = 7;
	var HORIZON = 200;
	var DROPOFF = { x: 3, y: 3 };

	var stepCount = 0;
	var agents = {};

	function spawn() {
		stepCount = 0;
		agents = {
			"0": { x: 0, y: 0, delivered: false },
			"1": { x: SIZE - 1, y: SIZE - 1, delivered: false }
		};
	}

	function observe(id) {
		var a = agents[id];
		var other = agents[id === "0" ? "1" : "0"];
		return {
			x: a.x,
			y: a.y,
			delivered: a.delivered,
			dropoff_x: DROPOFF.x,
			dropoff_y: DROPOFF.y,
			other_x: other.x,
			other_y: other.y,
			step: stepCount
		};
	}

	function applyAction(a, action) {
		var dx = 0, dy = 0;
		if (action === 1) { dy = -1; }
		else if (action === 2) { dy = 1; }
		else if (action === 3) { dx = -1; }
		else if (action === 4) { dx = 1; }
		a.x = GridUtils.clamp(a.x + dx, 0, SIZE - 1);
		a.y = GridUtils.clamp(a.y + dy, 0, SIZE - 1);
	}

	return {
		reset: function () {
			spawn();
			var obs = { "0": observe("0"), "1": observe("1") };
			var infos = { "0": {}, "1": {} };
			return [obs, infos];
		},

		step: function (actions) {
			stepCount += 1;
			var rewards = { "0": 0, "1": 0 };

			["0", "1"].forEach(function (id) {
				var a = agents[id];
				if (a.delivered) { return; }
				applyAction(a, actions[id]);
				if (a.x === DROPOFF.x && a.y === DROPOFF.y) {
					a.delivered = true;
					rewards["0"] += 1;
					rewards["1"] += 1;
				}
			});

			var obs = { "0": observe("0"), "1": observe("1") };
			var terminateds = {
				"0": agents["0"].delivered,
				"1": agents["1"].delivered
			};
			var truncated = stepCount >= HORIZON;
			var truncateds = { "0": truncated, "1": truncated };
			var infos = { "0": {}, "1": {} };
			return [obs, rewards, terminateds, truncateds, infos];
		},

		render: function () {
			var objects = [
				GridUtils.tile("dropoff", DROPOFF.x, DROPOFF.y, "#e6b453")
			];
			["0", "1"].forEach(function (id) {
				var a = agents[id];
				objects.push({
					uuid: "agent-" + id,
					object_type: "circle",
					x: a.x,
					y: a.y,
					radius: 12,
					color: id === "0" ? "#1f77b4" : "#d62728",
					alpha: a.delivered ? 0.4 : 1,
					depth: 2,
					permanent: false
				});
			});
			return objects;
		}
	};
})();
`

// gridUtilsPackage holds the helpers the gridworld bootstrap installs
// through the driver's package-loading path.
const gridUtilsPackage = `
var GridUtils = {
	clamp: function (v, lo, hi) {
		if (v < lo) { return lo; }
		if (v > hi) { return hi; }
		return v;
	},
	tile: function (uuid, x, y, color) {
		return {
			uuid: uuid,
			object_type: "polygon",
			points: [[x, y], [x + 1, y], [x + 1, y + 1], [x, y + 1]],
			color: color,
			alpha: 1,
			depth: 1,
			permanent: true
		};
	}
};
`

func gridworldConfig() *configs.Config {
	return configs.New("gridworld").
		Environment(configs.EnvironmentSection{
			EnvName:  "gridworld",
			Packages: []string{"gridutils"},
		}).
		Gameplay(configs.GameplaySection{
			NumEpisodes:   3,
			MaxSteps:      200,
			FPS:           15,
			DefaultAction: 0,
			ActionMapping: map[string]any{
				"ArrowUp":    1,
				"ArrowDown":  2,
				"ArrowLeft":  3,
				"ArrowRight": 4,
			},
			InputMode: input.ModePressedKeys,
			ActionSet: []any{0, 1, 2, 3, 4},
		}).
		Policies(configs.PolicySection{
			Mapping:   map[string]string{"0": "human", "1": "random"},
			FrameSkip: 5,
			Task:      "Carry your parcel to the shared dropoff tile at the center of the grid.",
		}).
		Rendering(configs.RenderingSection{
			GameWidth:  448,
			GameHeight: 448,
			Background: "#2b2b2b",
		})
}

func init() {
	Register(Environment{
		Name:        "gridworld",
		Description: "Two-participant cooperative delivery on a 7x7 grid.",
		Bootstrap:   gridworldBootstrap,
		Packages: map[string]string{
			"gridutils": gridUtilsPackage,
		},
		DefaultConfig: gridworldConfig,
	})
}
