package store

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pierrec/lz4"
)

// ExportSessionCSV writes a session's steps as CSV, one row per step.
func (s *Store) ExportSessionCSV(sessionID string, w io.Writer) error {
	records, err := s.ListSteps(sessionID)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	header := []string{"session_id", "episode_num", "step_num", "actions_json", "rewards_json", "latency_ms"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("store: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.SessionID,
			strconv.Itoa(r.EpisodeNum),
			strconv.Itoa(r.StepNum),
			r.ActionsJSON,
			r.RewardsJSON,
			strconv.FormatFloat(r.LatencyMs, 'f', 3, 64),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("store: write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Trajectory is the full export shape for one session.
type Trajectory struct {
	Session  Session      `json:"session"`
	Episodes []Episode    `json:"episodes"`
	Steps    []StepRecord `json:"steps"`
}

// ExportTrajectory writes a session's full trajectory as LZ4-compressed
// JSON at path.
func (s *Store) ExportTrajectory(sessionID, path string) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	episodes, err := s.ListEpisodes(sessionID)
	if err != nil {
		return err
	}
	steps, err := s.ListSteps(sessionID)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(Trajectory{Session: *sess, Episodes: episodes, Steps: steps})
	if err != nil {
		return fmt.Errorf("store: encode trajectory: %w", err)
	}

	compressed, err := compressLZ4(raw)
	if err != nil {
		return fmt.Errorf("store: compress trajectory: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: mkdir export dir: %w", err)
		}
	}
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("store: write trajectory: %w", err)
	}
	return nil
}

// ReadTrajectory reads an LZ4-compressed trajectory file back.
func ReadTrajectory(path string) (*Trajectory, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("store: read trajectory: %w", err)
	}
	raw, err := decompressLZ4(compressed)
	if err != nil {
		return nil, fmt.Errorf("store: decompress trajectory: %w", err)
	}
	tr := &Trajectory{}
	if err := json.Unmarshal(raw, tr); err != nil {
		return nil, fmt.Errorf("store: decode trajectory: %w", err)
	}
	return tr, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
