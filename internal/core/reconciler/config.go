package reconciler

import (
	"fmt"
	"time"

	"github.com/zeusync/cartsync/internal/core/connectivity"
)

// AddPolicy decides what adding a product that is already in the cart does.
type AddPolicy string

const (
	// AddOverwrite resets the line to the requested quantity.
	AddOverwrite AddPolicy = "overwrite"
	// AddIncrement adds the requested quantity to the existing line.
	AddIncrement AddPolicy = "increment"
)

func ParseAddPolicy(s string) (AddPolicy, error) {
	switch AddPolicy(s) {
	case AddOverwrite, AddIncrement:
		return AddPolicy(s), nil
	case "":
		return AddOverwrite, nil
	default:
		return "", fmt.Errorf("reconciler: unknown add policy %q", s)
	}
}

type Config struct {
	AddPolicy AddPolicy
	Reconnect connectivity.ReconnectPolicy
	// PushTimeout bounds each remote mutation. Zero leaves it to the caller's
	// context.
	PushTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		AddPolicy: AddOverwrite,
		Reconnect: connectivity.DefaultReconnectPolicy(),
	}
}
