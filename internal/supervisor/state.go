package supervisor

import (
	"errors"
	"time"

	"trackrelay/internal/wrapper"
)

// State is the health state of the wrapper instance.
type State string

const (
	StateUnknown  State = "unknown"
	StateStarting State = "starting"
	StateHealthy  State = "healthy"
	StateDegraded State = "degraded"
	StateStopped  State = "stopped"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// current state, such as building a running instance.
	ErrInvalidState = errors.New("supervisor: operation not valid in current state")
	// ErrUnsupported is returned for operations that need a native instance.
	ErrUnsupported = errors.New("supervisor: operation unsupported in remote mode")
)

// Instance is a point-in-time view of the supervised backend.
type Instance struct {
	Mode                string            `json:"mode"`
	Endpoint            string            `json:"endpoint"`
	State               State             `json:"state"`
	Provisioning        bool              `json:"provisioning"`
	LastProbe           time.Time         `json:"last_probe,omitzero"`
	LastError           string            `json:"last_error,omitempty"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Restarts            int               `json:"restarts"`
	PID                 int               `json:"pid,omitempty"`
	Regions             []string          `json:"regions,omitempty"`
	ClientCount         int               `json:"client_count"`
	Accounts            []wrapper.Account `json:"accounts,omitempty"`
}

func (i Instance) clone() Instance {
	out := i
	out.Regions = append([]string(nil), i.Regions...)
	out.Accounts = append([]wrapper.Account(nil), i.Accounts...)
	return out
}
