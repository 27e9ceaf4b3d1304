package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"signal-core/internal/trade"
	"signal-core/pkg/db"
)

// Config is one agent entry in agents.yaml.
type Config struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Type       string         `yaml:"type"`
	Symbol     string         `yaml:"symbol"`
	AssetClass string         `yaml:"asset_class"`
	Interval   string         `yaml:"interval"`
	Parameters map[string]any `yaml:"parameters"`
	IsActive   bool           `yaml:"is_active"`
}

// File is the top-level YAML structure.
type File struct {
	Agents []Config `yaml:"agents"`
}

// LoadConfig reads agent definitions from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	return file.Agents, nil
}

// Build constructs the agent a config entry describes. Unknown types and
// malformed parameters are errors; a misconfigured agent should stop the
// boot, not trade with defaults it was never given.
func Build(cfg Config) (Agent, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("agent config missing id (type %q)", cfg.Type)
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("agent %s missing symbol", cfg.ID)
	}

	params, err := json.Marshal(cfg.Parameters)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters for agent %s: %w", cfg.ID, err)
	}
	class := trade.AssetClass(cfg.AssetClass)

	switch cfg.Type {
	case "breakout":
		var p struct {
			SessionOpen   string  `json:"session_open"`
			WindowMinutes int     `json:"window_minutes"`
			Size          float64 `json:"size"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parameters for agent %s: %w", cfg.ID, err)
		}
		openMin := 13*60 + 30
		if p.SessionOpen != "" {
			openMin, err = parseClock(p.SessionOpen)
			if err != nil {
				return nil, fmt.Errorf("agent %s: %w", cfg.ID, err)
			}
		}
		return NewBreakout(cfg.ID, cfg.Symbol, class, openMin, p.WindowMinutes, p.Size), nil

	case "ladder":
		var p struct {
			BaseSize float64 `json:"base_size"`
			StepPct  float64 `json:"step_pct"`
			Growth   float64 `json:"growth"`
			MaxRungs int     `json:"max_rungs"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("parameters for agent %s: %w", cfg.ID, err)
		}
		return NewLadder(cfg.ID, cfg.Symbol, class, p.BaseSize, p.StepPct, p.Growth, p.MaxRungs), nil

	default:
		return nil, fmt.Errorf("unknown agent type %q", cfg.Type)
	}
}

// BuildActive builds every config entry marked active.
func BuildActive(configs []Config) ([]Agent, error) {
	var agents []Agent
	for _, cfg := range configs {
		if !cfg.IsActive {
			continue
		}
		a, err := Build(cfg)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// SyncToDB upserts agent definitions so the API can list them and state
// rows have an instance to hang off.
func SyncToDB(ctx context.Context, store *db.Database, configs []Config) error {
	for _, cfg := range configs {
		params, err := json.Marshal(cfg.Parameters)
		if err != nil {
			return fmt.Errorf("marshal parameters for agent %s: %w", cfg.ID, err)
		}
		name := cfg.Name
		if name == "" {
			name = cfg.ID
		}
		interval := cfg.Interval
		if interval == "" {
			interval = "tick"
		}
		class := cfg.AssetClass
		if class == "" {
			class = string(trade.AssetCrypto)
		}
		err = store.UpsertAgentInstance(ctx, db.AgentInstance{
			ID:         cfg.ID,
			Name:       name,
			AgentType:  cfg.Type,
			Symbol:     cfg.Symbol,
			Interval:   interval,
			Parameters: string(params),
			AssetClass: class,
			IsActive:   cfg.IsActive,
		})
		if err != nil {
			return fmt.Errorf("upsert agent %s: %w", cfg.ID, err)
		}
	}
	return nil
}

// parseClock converts "13:30" to minutes after midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid session open %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
