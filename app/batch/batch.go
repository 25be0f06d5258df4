// Package batch fans a config file's tasks out to concurrent mappers.
package batch

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/uchouT/nyat/app/config"
	"github.com/uchouT/nyat/app/hooks"
	"github.com/uchouT/nyat/pkg/mapper"
)

// restartDelay separates restarts of a task that failed recoverably.
const restartDelay = 5 * time.Second

// Run executes every task until ctx is cancelled. A task that fails
// with a recoverable error restarts after a delay; a fatal error stops
// that task only. Mapping lines are written to out as
// "[name] pubIP pubPort localIP localPort".
func Run(ctx context.Context, cfg *config.BatchConfig, out io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)

	for name, task := range cfg.Tasks {
		name := name
		m, err := task.BuildMapper()
		if err != nil {
			return fmt.Errorf("task %q: %w", name, err)
		}

		handler := lineWriter(out, name)
		if task.Exec != "" {
			handler = hooks.Chain(handler, hooks.NewExec(task.Exec))
		}

		g.Go(func() error {
			runTask(ctx, name, m, handler)
			return nil
		})
	}
	return g.Wait()
}

func runTask(ctx context.Context, name string, m mapper.Mapper, handler mapper.MappingHandler) {
	log := logrus.WithField("task", name)
	for {
		err := m.Run(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		if !mapper.Recoverable(err) {
			log.Errorf("fatal: %s", err.Error())
			return
		}
		log.Warnf("%s, retrying in %s", err.Error(), restartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(restartDelay):
		}
	}
}

func lineWriter(out io.Writer, name string) mapper.MappingHandler {
	return mapper.HandlerFunc(func(info mapper.MappingInfo) {
		fmt.Fprintf(out, "[%s] %s %d %s %d\n", name,
			info.PubAddr.Addr(), info.PubAddr.Port(),
			info.LocalAddr.Addr(), info.LocalAddr.Port())
	})
}
