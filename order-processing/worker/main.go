package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"order-fulfillment-engine/order-processing/activities"
	"order-fulfillment-engine/order-processing/config"
	"order-fulfillment-engine/order-processing/engine"
	"order-fulfillment-engine/order-processing/store"
	"order-fulfillment-engine/order-processing/telemetry"
	"order-fulfillment-engine/order-processing/workflows"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln("Unable to load configuration", err)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalln("Unable to set up tracing", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			log.Println("Tracing shutdown failed:", err)
		}
	}()

	set, err := activitySet(cfg)
	if err != nil {
		log.Fatalln("Unable to create activities", err)
	}
	workflow := &workflows.OrderFulfillment{
		ActivityOptions: cfg.ActivityOptions(),
		TaskQueues:      cfg.ActivityTaskQueues,
	}
	identity := "order-worker-" + hostname()

	log.Println("Worker identity:", identity)

	switch cfg.Backend {
	case config.BackendTemporal:
		err = runTemporal(cfg, identity, set, workflow)
	default:
		err = runEmbedded(ctx, cfg, identity, set, workflow)
	}
	if err != nil {
		log.Fatalln("Unable to start worker", err)
	}
}

func activitySet(cfg config.Config) (*activities.Set, error) {
	catalog := activities.DefaultCatalog()
	if cfg.InventoryFile != "" {
		var err error
		if catalog, err = activities.LoadCatalog(cfg.InventoryFile); err != nil {
			return nil, err
		}
	}
	recorder, err := telemetry.NewRecorder(nil)
	if err != nil {
		return nil, err
	}

	seed := cfg.FaultSeed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	faults := activities.NewSeededFaults(seed, nil)
	return activities.NewSet(activities.Dependencies{
		Inventory: faults.Inventory(catalog, cfg.Inventory.FaultConfig()),
		Gateway:   faults.Gateway(activities.MockGateway{}, cfg.Payment.FaultConfig()),
		Carrier:   faults.Carrier(activities.MockCarrier{}, cfg.Shipping.FaultConfig()),
		Notifier:  faults.Notifier(activities.LogNotifier{}, cfg.Notification.FaultConfig()),
		Metrics:   recorder,
	}), nil
}

func runEmbedded(ctx context.Context, cfg config.Config, identity string, set *activities.Set, wf *workflows.OrderFulfillment) error {
	st, closeStore, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Println("Closing store failed:", err)
		}
	}()

	e := engine.New(st, engine.Options{
		Identity:        identity,
		Workers:         cfg.Workers,
		PollInterval:    cfg.PollInterval,
		ActivityOptions: cfg.ActivityOptions(),
		Logger:          cfg.Logger(os.Stderr),
	})
	set.RegisterEngine(e)
	wf.RegisterEngine(e)

	log.Println("Embedded worker starting on store:", cfg.Store)
	return e.Run(worker.InterruptCh())
}

func runTemporal(cfg config.Config, identity string, set *activities.Set, wf *workflows.OrderFulfillment) error {
	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
		Identity: identity,
		Logger:   cfg.Logger(os.Stderr),
	})
	if err != nil {
		return err
	}
	defer c.Close()

	w := worker.New(c, cfg.TaskQueue, worker.Options{
		Identity:                               identity,
		MaxConcurrentActivityExecutionSize:     100,
		MaxConcurrentWorkflowTaskExecutionSize: 50,
	})
	wf.RegisterTemporal(w)
	set.RegisterTemporal(w)

	// Routed activities get a worker per task queue in this process.
	// Separate deployments can serve those queues instead.
	started := map[string]bool{cfg.TaskQueue: true}
	for _, queue := range cfg.ActivityTaskQueues {
		if started[queue] {
			continue
		}
		started[queue] = true
		aw := worker.New(c, queue, worker.Options{
			Identity:                           identity,
			MaxConcurrentActivityExecutionSize: 100,
		})
		set.RegisterTemporal(aw)
		if err := aw.Start(); err != nil {
			return err
		}
		defer aw.Stop()
		log.Println("Activity worker starting on task queue:", queue)
	}

	log.Println("Worker starting on task queue:", cfg.TaskQueue)
	return w.Run(worker.InterruptCh())
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
