/*
Copyright 2025 Pulp Health Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/pulphealth/pulp/config"
	redis_db "github.com/pulphealth/pulp/internal/redis-db"

	"github.com/hibiken/asynq"
	"github.com/hibiken/asynqmon"
)

const (
	retryDrainTask = "retries:drain"
	retryQueueName = "verification_retries"
)

// drainRetries replays one batch of due verification retries. The core
// holds a Redis lock while draining, so overlapping worker instances
// are safe and losing the race is quiet.
func (b *pulpInstance) drainRetries(ctx context.Context, _ *asynq.Task) error {
	ctx, span := otel.Tracer("pulp.retries.worker").Start(ctx, "Drain Verification Retries")
	defer span.End()

	processed, err := b.pulp.ProcessRetries(ctx)
	if err != nil {
		logrus.Errorf("retry drain failed: %v", err)
		return err
	}
	if processed > 0 {
		log.Println(" [*] Retries Processed", processed)
	}
	return nil
}

func initializeWorkerServer(conf *config.Configuration) (*asynq.Server, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, false)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		asynq.Config{
			Concurrency: 1,
			Queues:      map[string]int{retryQueueName: 1},
		},
	), nil
}

// initializeScheduler registers the periodic drain task so due retries
// are replayed without anyone calling the drain endpoint.
func initializeScheduler(conf *config.Configuration) (*asynq.Scheduler, error) {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, false)
	if err != nil {
		return nil, fmt.Errorf("error parsing Redis URL: %v", err)
	}

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:      redisOption.Addr,
			Password:  redisOption.Password,
			DB:        redisOption.DB,
			TLSConfig: redisOption.TLSConfig,
		},
		nil,
	)

	interval := time.Duration(*conf.RetryQueue.DrainIntervalSec) * time.Second
	_, err = scheduler.Register(
		fmt.Sprintf("@every %s", interval),
		asynq.NewTask(retryDrainTask, nil),
		asynq.Queue(retryQueueName),
	)
	if err != nil {
		return nil, fmt.Errorf("error registering drain schedule: %v", err)
	}
	return scheduler, nil
}

// workerCommands defines the "workers" command. Workers own the retry
// drain loop: a scheduler enqueues a drain task on a fixed interval and
// the server executes it.
func workerCommands(b *pulpInstance) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workers",
		Short: "start pulp workers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()

			conf, err := config.Fetch()
			if err != nil {
				log.Fatal("Error fetching config:", err)
			}

			phClient, shutdown, err := initializeObservability(ctx, conf)
			if err != nil {
				log.Fatal(err)
			}
			if shutdown != nil {
				defer func() {
					if err := shutdown(ctx); err != nil {
						log.Printf("Error during shutdown: %v", err)
					}
				}()
			}
			if phClient != nil {
				defer phClient.Close()
			}

			srv, err := initializeWorkerServer(conf)
			if err != nil {
				log.Fatal(err)
			}

			mux := asynq.NewServeMux()
			mux.HandleFunc(retryDrainTask, b.drainRetries)

			scheduler, err := initializeScheduler(conf)
			if err != nil {
				log.Fatal(err)
			}
			go func() {
				if err := scheduler.Run(); err != nil {
					log.Fatalf("could not run scheduler: %v", err)
				}
			}()

			// Start asynqmon server for health checks and monitoring
			redisOption, _ := redis_db.ParseRedisURL(conf.Redis.Dns, false)
			h := asynqmon.New(asynqmon.Options{
				RootPath: "/monitoring",
				RedisConnOpt: asynq.RedisClientOpt{
					Addr:      redisOption.Addr,
					Password:  redisOption.Password,
					DB:        redisOption.DB,
					TLSConfig: redisOption.TLSConfig,
				},
			})

			go func() {
				monitoringAddr := fmt.Sprintf(":%s", conf.RetryQueue.MonitoringPort)
				log.Printf("Asynqmon server listening on %s/monitoring", monitoringAddr)
				if err := http.ListenAndServe(monitoringAddr, h); err != nil {
					log.Fatalf("could not start asynqmon server: %v", err)
				}
			}()

			if err := srv.Run(mux); err != nil {
				log.Fatalf("could not run server: %v", err)
			}
		},
	}

	return cmd
}
