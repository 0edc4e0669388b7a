package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoConnection is returned when the archive cannot be reached
var ErrNoConnection = errors.New("no connection to the archive")

// CheckConnection issues one GET against checkURL. Any HTTP answer counts as
// connected; only transport failures are reported.
func CheckConnection(ctx context.Context, checkURL string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoConnection, err)
	}
	res.Body.Close()
	return nil
}
