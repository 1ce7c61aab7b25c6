// Command statsbuild turns raw per-document term scores, as emitted by the
// offline index scanner, into the binary statistics file the selection
// service loads. Input is a whitespace-separated text stream of
// "shardID term score" triples plus a shard-sizes file of "shardID docCount"
// pairs; output is one .ssx file covering every shard.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sidmenon/shardselect/internal/events"
	"github.com/sidmenon/shardselect/internal/stats"
	"github.com/sidmenon/shardselect/pkg/config"
	"github.com/sidmenon/shardselect/pkg/kafka"
	"github.com/sidmenon/shardselect/pkg/logger"
)

// accumulator tracks running moments for one (shard, term) pair using
// Welford's method, so a single pass over the score stream suffices.
type accumulator struct {
	count int64
	mean  float64
	m2    float64
}

func (a *accumulator) add(score float64) {
	a.count++
	delta := score - a.mean
	a.mean += delta / float64(a.count)
	a.m2 += delta * (score - a.mean)
}

func (a *accumulator) stats() stats.TermStats {
	variance := 0.0
	if a.count > 0 {
		variance = a.m2 / float64(a.count)
	}
	return stats.TermStats{
		Frequency: a.count,
		Mean:      a.mean,
		Variance:  variance,
	}
}

func main() {
	scoresPath := flag.String("scores", "", "path to score-sample file (shardID term score per line)")
	sizesPath := flag.String("sizes", "", "path to shard-sizes file (shardID docCount per line)")
	outputPath := flag.String("output", "data/shard-stats.ssx", "output statistics file")
	brokers := flag.String("brokers", "", "comma-separated Kafka brokers to announce the new file on (optional)")
	topic := flag.String("topic", "stats.published", "Kafka topic for the publish notification")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger.Setup(*logLevel, "text")

	if *scoresPath == "" || *sizesPath == "" {
		fmt.Fprintln(os.Stderr, "usage: statsbuild -scores <file> -sizes <file> [-output <file>]")
		os.Exit(2)
	}

	sizes, err := readSizes(*sizesPath)
	if err != nil {
		slog.Error("failed to read shard sizes", "path", *sizesPath, "error", err)
		os.Exit(1)
	}

	accs, lines, skipped, err := readScores(*scoresPath, len(sizes))
	if err != nil {
		slog.Error("failed to read score samples", "path", *scoresPath, "error", err)
		os.Exit(1)
	}
	if skipped > 0 {
		slog.Warn("skipped malformed score lines", "skipped", skipped)
	}

	shards := make([]stats.ShardStatistics, len(sizes))
	termTotal := 0
	for shardID := range shards {
		terms := make(map[string]stats.TermStats, len(accs[shardID]))
		for term, acc := range accs[shardID] {
			terms[term] = acc.stats()
		}
		termTotal += len(terms)
		shards[shardID] = stats.ShardStatistics{
			DocumentCount: sizes[shardID],
			Terms:         terms,
		}
	}

	if err := stats.WriteFile(*outputPath, shards); err != nil {
		slog.Error("failed to write statistics file", "path", *outputPath, "error", err)
		os.Exit(1)
	}
	slog.Info("statistics file written",
		"path", *outputPath,
		"shards", len(shards),
		"terms", termTotal,
		"samples", lines,
	)

	if *brokers != "" {
		if err := announce(*brokers, *topic, *outputPath, len(shards)); err != nil {
			slog.Error("failed to announce statistics file", "topic", *topic, "error", err)
			os.Exit(1)
		}
		slog.Info("statistics file announced", "topic", *topic)
	}
}

// announce tells running selectors to reload. The file is already renamed
// into place, so a consumer acting on this immediately sees the new data.
func announce(brokers, topic, path string, shardCount int) error {
	producer := kafka.NewProducer(config.KafkaConfig{
		Brokers: strings.Split(brokers, ","),
	}, topic)
	defer producer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return producer.Publish(ctx, kafka.Event{
		Key: path,
		Value: events.StatsPublished{
			Path:        path,
			Shards:      shardCount,
			PublishedAt: time.Now().UTC(),
		},
	})
}

func readSizes(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sizes := make(map[int]int64)
	maxShard := -1
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("malformed sizes line %q", line)
		}
		shardID, err := strconv.Atoi(fields[0])
		if err != nil || shardID < 0 {
			return nil, fmt.Errorf("bad shard id in %q", line)
		}
		count, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("bad document count in %q", line)
		}
		sizes[shardID] = count
		if shardID > maxShard {
			maxShard = shardID
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if maxShard < 0 {
		return nil, fmt.Errorf("sizes file is empty")
	}
	out := make([]int64, maxShard+1)
	for shardID, count := range sizes {
		out[shardID] = count
	}
	return out, nil
}

func readScores(path string, shardCount int) ([]map[string]*accumulator, int64, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	accs := make([]map[string]*accumulator, shardCount)
	for i := range accs {
		accs[i] = make(map[string]*accumulator)
	}

	var lines, skipped int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			skipped++
			continue
		}
		shardID, err := strconv.Atoi(fields[0])
		if err != nil || shardID < 0 || shardID >= shardCount {
			skipped++
			continue
		}
		score, err := strconv.ParseFloat(fields[2], 64)
		if err != nil || score < 0 {
			skipped++
			continue
		}
		term := fields[1]
		acc, ok := accs[shardID][term]
		if !ok {
			acc = &accumulator{}
			accs[shardID][term] = acc
		}
		acc.add(score)
		lines++
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, 0, err
	}
	return accs, lines, skipped, nil
}
