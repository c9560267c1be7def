package cache

import (
	"bufio"
	"context"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// infoFields are the INFO keys surfaced as probe details
var infoFields = []string{"used_memory", "connected_clients", "uptime_in_seconds"}

// Probe returns a health probe for client. PING decides health; INFO only adds
// details and its failure is ignored.
func Probe(client redis.UniversalClient) func(ctx context.Context) (map[string]interface{}, error) {
	return func(ctx context.Context) (map[string]interface{}, error) {
		if err := Ping(ctx, client); err != nil {
			return nil, err
		}

		details := map[string]interface{}{}
		info, err := client.Info(ctx, "memory", "clients", "server").Result()
		if err != nil {
			details["info_error"] = err.Error()
			return details, nil
		}
		for k, v := range parseInfo(info) {
			details[k] = v
		}
		return details, nil
	}
}

// parseInfo extracts the interesting fields from an INFO reply. Numeric values are
// returned as int64.
func parseInfo(info string) map[string]interface{} {
	wanted := make(map[string]bool, len(infoFields))
	for _, f := range infoFields {
		wanted[f] = true
	}

	out := make(map[string]interface{})
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found || !wanted[key] {
			continue
		}
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = n
		} else {
			out[key] = value
		}
	}
	return out
}
