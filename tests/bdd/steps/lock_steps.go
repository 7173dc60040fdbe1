//go:build bdd

package steps

import (
	"fmt"

	"github.com/cucumber/godog"
)

// RegisterLockSteps registers step definitions for the lock manager admin
// surface (spec §8 scenario 5's observable-over-HTTP portion).
func RegisterLockSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	ctx.Step(`^there are (\d+) active locks$`, func(want int) error {
		if err := tc.GET("/locks"); err != nil {
			return err
		}
		if tc.LastStatusCode != 200 {
			return fmt.Errorf("expected 200 listing locks, got %d: %s", tc.LastStatusCode, string(tc.LastBody))
		}
		if len(tc.LastJSONArray) != want {
			return fmt.Errorf("active lock count = %d, want %d", len(tc.LastJSONArray), want)
		}
		return nil
	})

	ctx.Step(`^lock "([^"]*)" is force-released$`, func(lockKey string) error {
		return tc.POST("/locks/force-release", map[string]interface{}{"lock_key": lockKey})
	})

	ctx.Step(`^stale locks older than (\d+) seconds are cleaned up$`, func(seconds int) error {
		return tc.POST("/locks/cleanup", map[string]interface{}{"age_seconds": seconds})
	})
}
