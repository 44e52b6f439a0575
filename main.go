package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/webinar-chat/modules/gateway"
	"github.com/example/webinar-chat/modules/hub"
	"github.com/example/webinar-chat/modules/registry"
	"github.com/example/webinar-chat/modules/stats"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== Webinar Chat - Room Presence & Messaging ===")

	// Create mono application
	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	// Create modules
	registryModule := registry.NewModule()
	hubModule := hub.NewModule(registryModule.Registry())
	statsModule := stats.NewModule()
	gatewayModule := gateway.NewModule()

	// Inject the hub into the gateway directly; WebSocket dispatch stays on
	// the hot path instead of going through the service container.
	gatewayModule.SetHub(hubModule.Hub())

	// Register modules with the framework.
	// Order: independent modules first, then modules with dependencies
	// - registry: Room membership state (ServiceProviderModule)
	// - hub: Protocol dispatch + fan-out (EventEmitterModule)
	// - stats: Usage counters (EventConsumerModule)
	// - gateway: Fiber HTTP/WebSocket edge (depends on registry)
	app.Register(registryModule)
	app.Register(hubModule)
	app.Register(statsModule)
	app.Register(gatewayModule)

	// Start application
	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	printStartupInfo()

	// Graceful shutdown
	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func printStartupInfo() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	log.Println("")
	log.Println("Application started successfully!")
	log.Println("")
	log.Printf("REST API Endpoints (http://localhost:%s):", port)
	log.Println("  GET    /healthz            - Health check")
	log.Println("  GET    /api/v1/rooms       - List live rooms")
	log.Println("  GET    /api/v1/rooms/:id   - Room member snapshot")
	log.Println("")
	log.Printf("WebSocket Endpoint (ws://localhost:%s/ws):", port)
	log.Printf("  Connect with: ws://localhost:%s/ws?username=yourname&userId=your-id", port)
	log.Println("  Events: join-room, send-message, leave-room, typing, stop-typing")
	log.Println("")
	log.Println("Press Ctrl+C to shutdown gracefully")
}
