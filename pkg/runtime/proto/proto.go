// Package proto defines the messages exchanged on the runtime control protocol.
package proto

import (
	"fmt"
	"strings"
)

// StopReason tells observers why a deployment's service stopped. The integer
// values are part of the wire contract.
type StopReason int32

const (
	// StopReasonEnded means the service's bind call returned without error.
	StopReasonEnded StopReason = 0
	// StopReasonCrashed means user code failed or panicked.
	StopReasonCrashed StopReason = 1
	// StopReasonStopped means an explicit Stop request aborted the service.
	StopReasonStopped StopReason = 2
)

func (r StopReason) String() string {
	switch r {
	case StopReasonEnded:
		return "ended"
	case StopReasonCrashed:
		return "crashed"
	case StopReasonStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int32(r))
	}
}

// ParseStopReason accepts either the textual or the numeric form.
func ParseStopReason(value string) (StopReason, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "ended", "0":
		return StopReasonEnded, nil
	case "crashed", "1":
		return StopReasonCrashed, nil
	case "stopped", "2":
		return StopReasonStopped, nil
	default:
		return 0, fmt.Errorf("unknown stop reason %q", value)
	}
}

// Environment is the kind of environment a service is loaded into.
type Environment string

const (
	EnvLocal      Environment = "local"
	EnvDeployment Environment = "deployment"
)

// ParseEnvironment validates an environment name. Empty means local.
func ParseEnvironment(value string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(value))) {
	case "", EnvLocal:
		return EnvLocal, nil
	case EnvDeployment:
		return EnvDeployment, nil
	default:
		return "", fmt.Errorf("unknown environment %q", value)
	}
}

// LoadRequest asks the runtime to build the service's resources.
type LoadRequest struct {
	ProjectName string            `json:"project_name"`
	Env         string            `json:"env"`
	Secrets     map[string]string `json:"secrets,omitempty"`
}

// LoadResponse carries the resource descriptors produced by the loader, in order.
type LoadResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	Resources [][]byte `json:"resources,omitempty"`
}

// StartRequest asks the runtime to start the loaded service on Address.
type StartRequest struct {
	Address   string   `json:"address"`
	Resources [][]byte `json:"resources,omitempty"`
}

// StartResponse reports whether the launch was accepted.
type StartResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// StopResponse reports whether the stop signal was delivered.
type StopResponse struct {
	Success bool `json:"success"`
}

// SubscribeStopResponse is the terminal status of a deployment.
type SubscribeStopResponse struct {
	Reason  StopReason `json:"reason"`
	Message string     `json:"message,omitempty"`
}
