package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ActionPolicy is the budget for one guarded action: a user-scoped limit,
// an IP-scoped limit, and the ban handed out when the IP limit is breached.
type ActionPolicy struct {
	UserLimit   Limit
	IPLimit     Limit
	BanDuration time.Duration
}

type Policy struct {
	CancelRequest ActionPolicy
}

func DefaultPolicy() Policy {
	return Policy{
		CancelRequest: ActionPolicy{
			UserLimit:   Limit{Limit: 3, Window: time.Hour},
			IPLimit:     Limit{Limit: 5, Window: time.Hour},
			BanDuration: CancelRequestBanDuration,
		},
	}
}

type policyFile struct {
	CancelRequest actionPolicyFile `yaml:"cancel_request"`
}

type actionPolicyFile struct {
	User        limitFile `yaml:"user"`
	IP          limitFile `yaml:"ip"`
	BanDuration string    `yaml:"ban_duration"`
}

type limitFile struct {
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadPolicy reads an optional YAML policy file on top of the defaults.
// An empty path returns the defaults unchanged.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read rate limit policy: %w", err)
	}

	var file policyFile
	if err := yaml.Unmarshal(payload, &file); err != nil {
		return Policy{}, fmt.Errorf("failed to parse rate limit policy: %w", err)
	}

	if err := applyLimit(&policy.CancelRequest.UserLimit, file.CancelRequest.User); err != nil {
		return Policy{}, err
	}
	if err := applyLimit(&policy.CancelRequest.IPLimit, file.CancelRequest.IP); err != nil {
		return Policy{}, err
	}
	if file.CancelRequest.BanDuration != "" {
		duration, err := time.ParseDuration(file.CancelRequest.BanDuration)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid ban_duration: %w", err)
		}
		policy.CancelRequest.BanDuration = duration
	}

	return policy, nil
}

func applyLimit(limit *Limit, file limitFile) error {
	if file.Limit > 0 {
		limit.Limit = file.Limit
	}
	if file.Window != "" {
		window, err := time.ParseDuration(file.Window)
		if err != nil {
			return fmt.Errorf("invalid window: %w", err)
		}
		limit.Window = window
	}
	return nil
}
