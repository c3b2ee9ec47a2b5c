package interaction

import (
	"sync"
	"testing"
	"time"

	"github.com/ykute07/agentconnect/pkg/events"
)

func testConfig(maxTurns int) Config {
	return Config{
		MaxTokensPerMinute: 1000,
		MaxTokensPerHour:   100000,
		MaxTurns:           maxTurns,
		MinCooldown:        time.Second,
	}
}

func TestControl_ContinueWarnStop(t *testing.T) {
	c := NewControl(testConfig(3), nil)

	if got := c.ProcessInteraction(10, "conv-a"); got != StateContinue {
		t.Errorf("turn 1 state = %s, want continue", got)
	}
	if got := c.ProcessInteraction(10, "conv-a"); got != StateWarn {
		t.Errorf("turn 2 state = %s, want warn", got)
	}
	if got := c.ProcessInteraction(10, "conv-a"); got != StateStop {
		t.Errorf("turn 3 state = %s, want stop", got)
	}
	// Stop is sticky until reset
	if got := c.ProcessInteraction(10, "conv-a"); got != StateStop {
		t.Errorf("turn 4 state = %s, want stop (sticky)", got)
	}
}

func TestControl_TwoTurnBudgetSkipsWarn(t *testing.T) {
	c := NewControl(testConfig(2), nil)

	if got := c.ProcessInteraction(10, "conv-a"); got != StateContinue {
		t.Errorf("turn 1 state = %s, want continue (no warning on the opening turn)", got)
	}
	if got := c.ProcessInteraction(10, "conv-a"); got != StateStop {
		t.Errorf("turn 2 state = %s, want stop", got)
	}
}

func TestControl_ConversationsIndependent(t *testing.T) {
	c := NewControl(testConfig(2), nil)

	c.ProcessInteraction(10, "conv-a")
	c.ProcessInteraction(10, "conv-a")

	if got := c.ProcessInteraction(10, "conv-b"); got == StateStop {
		t.Error("conv-b should not inherit conv-a's stop state")
	}
}

func TestControl_ResetRestoresFreshBehavior(t *testing.T) {
	c := NewControl(testConfig(2), nil)

	c.ProcessInteraction(10, "conv-a")
	c.ProcessInteraction(10, "conv-a")
	c.ProcessInteraction(10, "conv-b")

	c.ResetAllTurns()

	stats := c.Stats()
	if stats["conv-a"].TurnCount != 0 || stats["conv-b"].TurnCount != 0 {
		t.Errorf("turn counts after ResetAllTurns = %+v, want zeros", stats)
	}
	// Token history is untouched by turn resets
	if stats["conv-a"].TotalTokens != 20 {
		t.Errorf("conv-a tokens = %d, want 20", stats["conv-a"].TotalTokens)
	}

	if got := c.ProcessInteraction(10, "conv-a"); got != StateContinue {
		t.Errorf("post-reset state = %s, want continue", got)
	}
}

func TestControl_NegativeTokensClamped(t *testing.T) {
	c := NewControl(testConfig(10), nil)

	c.ProcessInteraction(-100, "conv-a")

	if got := c.Stats()["conv-a"].TotalTokens; got != 0 {
		t.Errorf("tokens = %d, want 0 after clamped negative", got)
	}
}

func TestControl_CooldownFromBudget(t *testing.T) {
	cfg := testConfig(100)
	cfg.MaxTokensPerMinute = 100
	c := NewControl(cfg, nil)

	var mu sync.Mutex
	var notified time.Duration
	c.SetCooldownCallback(func(d time.Duration) {
		mu.Lock()
		notified = d
		mu.Unlock()
	})

	c.ProcessInteraction(150, "conv-a")

	if _, active := c.InCooldown(); !active {
		t.Fatal("expected active cooldown after exceeding the minute budget")
	}
	mu.Lock()
	defer mu.Unlock()
	if notified <= 0 {
		t.Error("cooldown callback should receive a positive duration")
	}
}

func TestControl_EmitsTurnEvents(t *testing.T) {
	rec := &events.Recorder{}
	c := NewControl(testConfig(3), rec)

	c.ProcessInteraction(10, "conv-a")
	c.ProcessInteraction(10, "conv-a")
	c.ProcessInteraction(10, "conv-a")

	if got := len(rec.ByKind(events.KindTurnWarning)); got != 1 {
		t.Errorf("turn_warning events = %d, want 1", got)
	}
	if got := len(rec.ByKind(events.KindTurnLimitReached)); got != 1 {
		t.Errorf("turn_limit_reached events = %d, want 1", got)
	}
}

func TestControl_ConcurrentProcessing(t *testing.T) {
	c := NewControl(testConfig(0), nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.ProcessInteraction(1, "conv-a")
		}()
	}
	wg.Wait()

	stats := c.Stats()["conv-a"]
	if stats.TurnCount != 50 {
		t.Errorf("turn count = %d, want 50", stats.TurnCount)
	}
	if stats.TotalTokens != 50 {
		t.Errorf("total tokens = %d, want 50", stats.TotalTokens)
	}
}
