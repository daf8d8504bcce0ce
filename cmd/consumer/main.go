package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/glass-allocation/internal/models"
	"github.com/example/glass-allocation/internal/stats"
)

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_offer_events_consumed_total",
		Help: "Total offer lifecycle events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_offer_events_invalid_total",
		Help: "Total invalid events received",
	})
	metricUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_shop_metric_updates_total",
		Help: "Total successful shop metric writes",
	})
	metricErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_shop_metric_errors_total",
		Help: "Total shop metric write errors",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, metricUpdates, metricErrors)
}

func main() {
	_ = godotenv.Load()

	// allow some flags for local runs
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "offer-events"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})
	radapter := &redisAdapter{c: rc}

	// start metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The aggregates live only in this process and are a pure function of
	// the event log, so every start replays the topic from the first
	// offset to rebuild them. No consumer group, no committed offset:
	// resuming mid-log would overwrite the Redis metrics with totals
	// missing everything before the committed position.
	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, Partition: 0, StartOffset: kafka.FirstOffset, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("stats consumer replaying topic=%s brokers=%v", topic, brokers)

	agg := stats.NewAggregator()

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		eventsConsumed.Inc()

		var ev models.OfferEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}
		if ev.ShopID == "" {
			eventsInvalid.Inc()
			continue
		}

		agg.Apply(ev)
		snap, _ := agg.Snapshot(ev.ShopID)

		// Push the refreshed aggregate to Redis with retries and small backoff
		if err := updateMetricsWithRetry(ctx, radapter, ev.ShopID, snap, 3, 200*time.Millisecond); err != nil {
			metricErrors.Inc()
			log.Printf("metric update failed for shop=%s: %v", ev.ShopID, err)
			continue
		}
		metricUpdates.Inc()
	}
}

// MetricsUpdater defines the small subset of redis operations we need for tests and production.
type MetricsUpdater interface {
	HSet(ctx context.Context, key string, values map[string]interface{}) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	_, err := r.c.HSet(ctx, key, values).Result()
	return err
}

// updateMetricsWithRetry writes the aggregated snapshot into the shop
// metadata hash the allocator's directory reads, with retry/backoff.
func updateMetricsWithRetry(ctx context.Context, rc MetricsUpdater, shopID string, snap stats.Snapshot, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := rc.HSet(ctx, "shop:meta:"+shopID, snap.Fields()); err != nil {
			lastErr = err
			if i == attempts-1 {
				return err
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return lastErr
}
