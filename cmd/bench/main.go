// Command bench drives a running xeondb server with a mixed read/write
// workload over the keyspace/table/SQL statement protocol: schema setup,
// row prepopulation, then concurrent workers mixing point reads, updates
// and deletes with an 80/20 hot-key access pattern.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

var (
	addr        = flag.String("addr", "localhost:4488", "Server address")
	duration    = flag.Duration("duration", 30*time.Second, "Benchmark duration")
	concurrency = flag.Int("concurrency", 10, "Number of concurrent clients")
	readRatio   = flag.Float64("read-ratio", 0.8, "Read ratio (0.0-1.0)")
	keyCount    = flag.Int("key-count", 10000, "Total number of unique primary keys")
	hotKeyRatio = flag.Float64("hot-key-ratio", 0.2, "Hot key ratio (80/20 access pattern)")
	keyspace    = flag.String("keyspace", "bench", "Keyspace to create and use")
	table       = flag.String("table", "items", "Table to create and use")
)

type Stats struct {
	reads        int64
	writes       int64
	deletes      int64
	errors       int64
	readLatency  int64 // nanoseconds, summed
	writeLatency int64
}

func main() {
	flag.Parse()

	log.Printf("Benchmark Configuration:")
	log.Printf("  Server: %s", *addr)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Concurrency: %d", *concurrency)
	log.Printf("  Read Ratio: %.2f", *readRatio)
	log.Printf("  Key Count: %d", *keyCount)
	log.Printf("  Hot Key Ratio: %.2f", *hotKeyRatio)

	if err := setupSchema(*addr); err != nil {
		log.Fatalf("Schema setup failed: %v", err)
	}

	log.Println("Pre-populating rows...")
	if err := prepopulate(*addr, *keyCount/10); err != nil {
		log.Fatalf("Prepopulation failed: %v", err)
	}

	log.Println("Starting benchmark...")
	stats := runBenchmark()

	printResults(stats)
}

// client wraps one line-JSON connection to the server.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func dial(addr string) (*client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &client{conn: conn, reader: bufio.NewReader(conn), writer: bufio.NewWriter(conn)}, nil
}

func (c *client) exec(stmt string) (string, error) {
	if _, err := c.writer.WriteString(stmt); err != nil {
		return "", err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return "", err
	}
	if err := c.writer.Flush(); err != nil {
		return "", err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\n"), nil
}

func (c *client) close() { c.conn.Close() }

func setupSchema(addr string) error {
	c, err := dial(addr)
	if err != nil {
		return err
	}
	defer c.close()

	stmts := []string{
		fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s;`, *keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (id int64 PRIMARY KEY, payload varchar);`, *keyspace, *table),
	}
	for _, s := range stmts {
		if _, err := c.exec(s); err != nil {
			return err
		}
	}
	return nil
}

func prepopulate(addr string, count int) error {
	c, err := dial(addr)
	if err != nil {
		return err
	}
	defer c.close()

	for i := 0; i < count; i++ {
		stmt := fmt.Sprintf(`INSERT INTO %s.%s (id,payload) VALUES (%d,"%s");`, *keyspace, *table, i, generateValue())
		if _, err := c.exec(stmt); err != nil {
			return err
		}
		if i%1000 == 0 {
			log.Printf("  Prepopulated %d rows", i)
		}
	}
	log.Printf("  Prepopulated %d rows", count)
	return nil
}

func runBenchmark() *Stats {
	stats := &Stats{}
	var wg sync.WaitGroup

	stopCh := make(chan struct{})
	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go worker(i, stats, stopCh, &wg)
	}

	time.Sleep(*duration)
	close(stopCh)
	wg.Wait()
	return stats
}

func worker(id int, stats *Stats, stopCh chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	c, err := dial(*addr)
	if err != nil {
		log.Printf("Worker %d: connection failed: %v", id, err)
		return
	}
	defer c.close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if rng.Float64() < *readRatio {
			key := selectKey(rng)
			start := time.Now()
			stmt := fmt.Sprintf(`SELECT * FROM %s.%s WHERE id=%d;`, *keyspace, *table, key)
			if _, err := c.exec(stmt); err != nil {
				atomic.AddInt64(&stats.errors, 1)
				continue
			}
			atomic.AddInt64(&stats.reads, 1)
			atomic.AddInt64(&stats.readLatency, time.Since(start).Nanoseconds())
			continue
		}

		if rng.Float64() < 0.9 {
			key := selectKey(rng)
			start := time.Now()
			stmt := fmt.Sprintf(`UPDATE %s.%s SET payload="%s" WHERE id=%d;`, *keyspace, *table, generateValue(), key)
			if _, err := c.exec(stmt); err != nil {
				atomic.AddInt64(&stats.errors, 1)
				continue
			}
			atomic.AddInt64(&stats.writes, 1)
			atomic.AddInt64(&stats.writeLatency, time.Since(start).Nanoseconds())
			continue
		}

		key := selectKey(rng)
		start := time.Now()
		stmt := fmt.Sprintf(`DELETE FROM %s.%s WHERE id=%d;`, *keyspace, *table, key)
		if _, err := c.exec(stmt); err != nil {
			atomic.AddInt64(&stats.errors, 1)
			continue
		}
		atomic.AddInt64(&stats.deletes, 1)
		atomic.AddInt64(&stats.writeLatency, time.Since(start).Nanoseconds())
	}
}

// selectKey implements an 80/20 access pattern: most traffic lands on a
// small "hot" subset of primary keys.
func selectKey(rng *rand.Rand) int {
	hotKeyCount := int(float64(*keyCount) * *hotKeyRatio)
	if hotKeyCount < 1 {
		hotKeyCount = 1
	}

	if rng.Float64() < 0.8 || hotKeyCount >= *keyCount {
		return rng.Intn(hotKeyCount)
	}
	return hotKeyCount + rng.Intn(*keyCount-hotKeyCount)
}

func generateValue() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	size := 16 + rand.Intn(112)
	b := make([]byte, size)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func printResults(stats *Stats) {
	reads := atomic.LoadInt64(&stats.reads)
	writes := atomic.LoadInt64(&stats.writes)
	deletes := atomic.LoadInt64(&stats.deletes)
	errs := atomic.LoadInt64(&stats.errors)
	readLatency := atomic.LoadInt64(&stats.readLatency)
	writeLatency := atomic.LoadInt64(&stats.writeLatency)

	totalOps := reads + writes + deletes
	durationSec := duration.Seconds()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("BENCHMARK RESULTS")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\nOperations:\n")
	fmt.Printf("  Total Operations: %d\n", totalOps)
	if totalOps > 0 {
		fmt.Printf("  Reads:            %d (%.1f%%)\n", reads, float64(reads)/float64(totalOps)*100)
		fmt.Printf("  Writes:           %d (%.1f%%)\n", writes, float64(writes)/float64(totalOps)*100)
		fmt.Printf("  Deletes:          %d (%.1f%%)\n", deletes, float64(deletes)/float64(totalOps)*100)
	}
	fmt.Printf("  Errors:           %d\n", errs)

	fmt.Printf("\nThroughput:\n")
	fmt.Printf("  Total:            %.2f ops/sec\n", float64(totalOps)/durationSec)
	fmt.Printf("  Reads:            %.2f ops/sec\n", float64(reads)/durationSec)
	fmt.Printf("  Writes:           %.2f ops/sec\n", float64(writes)/durationSec)

	fmt.Printf("\nLatency (Average):\n")
	if reads > 0 {
		fmt.Printf("  Read:             %v\n", time.Duration(readLatency/reads))
	}
	if writes+deletes > 0 {
		fmt.Printf("  Write:            %v\n", time.Duration(writeLatency/(writes+deletes)))
	}

	fmt.Println(strings.Repeat("=", 60))
}
