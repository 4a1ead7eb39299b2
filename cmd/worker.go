package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var workerOpts struct {
	concurrency int
	recover     bool
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume provisioning jobs from redis",
	Long: `Consumes provisioning jobs from the redis queue. On start, jobs left
unacknowledged by a crashed worker are returned to the queue; disable this
with --recover=false when several workers share a queue.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerOpts.concurrency, "concurrency", 2, "number of jobs processed in parallel")
	workerCmd.Flags().BoolVar(&workerOpts.recover, "recover", true, "requeue unacknowledged jobs on start")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if a.redis == nil {
		return errors.New("the worker command requires QUEUE_DRIVER=redis; the memory queue is consumed by serve")
	}

	if workerOpts.recover {
		n, err := a.redis.Recover(ctx)
		if err != nil {
			a.log.Error("Failed to recover unacknowledged jobs", zap.Error(err))
			return err
		}
		if n > 0 {
			a.log.Warn("Requeued unacknowledged jobs", zap.Int("jobs", n))
		}
	}

	ready, processing, delayed, err := a.redis.Pending(ctx)
	if err == nil {
		a.log.Info("Queue state",
			zap.Int64("ready", ready),
			zap.Int64("processing", processing),
			zap.Int64("delayed", delayed))
	}

	return a.newWorker(workerOpts.concurrency).Run(ctx)
}
