package attack

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fortio.org/log"
)

// doubleInterruptWindow is how long a second Ctrl-C within the first one's
// shadow takes to escalate from "ramp down gracefully" to "stop immediately".
const doubleInterruptWindow = 2 * time.Second

// RunWithSignals runs a.Run under SIGINT/SIGTERM handling: the first signal
// cancels ctx so Run stops driving the plan, enters Stopping, despawns every
// user and runs their on_stop hooks; a second signal within
// doubleInterruptWindow cancels a hard-stop context, and RunWithSignals then
// returns context.Canceled at once without waiting for that graceful stop
// (Run keeps going in its own goroutine until its users have stopped).
func (a *Attack) RunWithSignals(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	hardCtx, hardCancel := context.WithCancel(context.Background())
	defer hardCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		var firstSignal time.Time
		for range sigCh {
			now := time.Now()
			if !firstSignal.IsZero() && now.Sub(firstSignal) < doubleInterruptWindow {
				log.Warnf("attack: second interrupt received, stopping immediately")
				hardCancel()
				cancel()
				return
			}
			firstSignal = now
			log.Infof("attack: interrupt received, ramping down (press again within %s to stop immediately)", doubleInterruptWindow)
			cancel()
		}
	}()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		return err
	case <-hardCtx.Done():
		return context.Canceled
	}
}
