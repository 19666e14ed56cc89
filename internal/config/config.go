// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package config binds the daemon's environment configuration (spec.md
// §6) to a pflag.FlagSet, the same Bind/Preflight shape as the
// teacher's internal/source/server.Config and internal/source/logical's
// per-component config types.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config holds every environment-configurable value spec.md §6 names.
type Config struct {
	// DatabaseURL is the Postgres connection string. Not named in
	// spec.md §6's enumerated list (which describes the Event Store
	// abstractly), but required to actually connect to one.
	DatabaseURL string

	PollInterval       time.Duration
	ClaimBatchLimit    int
	RecoveryBatchLimit int

	WebhookTimeout time.Duration
	// WebhookRetryBackoff corresponds to webhookRetryBackoffMillisSequence.
	// Its length also bounds the Executor's total attempt count.
	WebhookRetryBackoff []time.Duration

	QueueVisibilityTimeout time.Duration
	QueueMaxReceiveCount   int
	// SQSQueueURL and SQSDLQURL select the production queue backend;
	// when both are empty the daemon runs with internal/queue/inmemory
	// instead (single-process mode).
	SQSQueueURL string
	SQSDLQURL   string

	// DeliveryTimeOverride corresponds to deliveryTimeOverride: an
	// optional HH:MM:SS local time-of-day used instead of the default
	// 09:00:00, for testing only; wiring.New applies it.
	DeliveryTimeOverride string

	LateExecutionGrace time.Duration

	MetricsBindAddr string

	// webhookRetryBackoffRaw is populated by Bind and parsed into
	// WebhookRetryBackoff by Preflight, since pflag has no
	// []time.Duration flag type and spec.md §6 specifies the sequence
	// as a single comma-separated value.
	webhookRetryBackoffRaw string
}

// webhookRetryBackoffMillisSequence's default per spec.md §6.
const defaultWebhookRetryBackoffMillis = "1000,2000,4000"

// Bind registers flags for every field, with defaults matching
// spec.md §6's enumerated values. Each flag's default is first
// overridable by an environment variable of the same name (uppercased
// is not required; spec.md §6 names these in lowerCamelCase and that
// is what operators are expected to set), so a plain `docker run -e`
// deployment works without a flags file.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.DatabaseURL, "databaseURL", envOr("databaseURL", ""),
		"the Postgres connection string for the Event Store and Owner tables")

	flags.DurationVar(&c.PollInterval, "pollIntervalSeconds",
		envDurationSeconds("pollIntervalSeconds", 60*time.Second),
		"the Scheduler tick interval")
	flags.IntVar(&c.ClaimBatchLimit, "claimBatchLimit",
		envInt("claimBatchLimit", 100),
		"the maximum number of due events claimed per Scheduler tick")
	flags.IntVar(&c.RecoveryBatchLimit, "recoveryBatchLimit",
		envInt("recoveryBatchLimit", 1000),
		"the maximum number of missed events re-published per Recovery Sweep pass")

	flags.DurationVar(&c.WebhookTimeout, "webhookTimeoutMillis",
		envDurationMillis("webhookTimeoutMillis", 10000*time.Millisecond),
		"the per-attempt outbound webhook connection/read timeout")
	flags.StringVar(&c.webhookRetryBackoffRaw, "webhookRetryBackoffMillisSequence",
		envOr("webhookRetryBackoffMillisSequence", defaultWebhookRetryBackoffMillis),
		"comma-separated milliseconds between webhook retry attempts; its length also bounds the total attempt count")

	flags.DurationVar(&c.QueueVisibilityTimeout, "queueVisibilityTimeoutSeconds",
		envDurationSeconds("queueVisibilityTimeoutSeconds", 30*time.Second),
		"the Work Queue's per-message visibility timeout")
	flags.IntVar(&c.QueueMaxReceiveCount, "queueMaxReceiveCount",
		envInt("queueMaxReceiveCount", 3),
		"the number of deliveries before a descriptor is redriven to the dead-letter queue")
	flags.StringVar(&c.SQSQueueURL, "sqsQueueURL", envOr("sqsQueueURL", ""),
		"the production SQS queue URL; empty selects the in-memory queue for single-process mode")
	flags.StringVar(&c.SQSDLQURL, "sqsDLQURL", envOr("sqsDLQURL", ""),
		"the SQS dead-letter queue URL, required when sqsQueueURL is set")

	flags.StringVar(&c.DeliveryTimeOverride, "deliveryTimeOverride", envOr("deliveryTimeOverride", ""),
		"optional HH:MM:SS override for the Materializer's time-of-day; testing only")

	flags.DurationVar(&c.LateExecutionGrace, "lateExecutionGraceMillis",
		envDurationMillis("lateExecutionGraceMillis", 300000*time.Millisecond),
		"the lag past targetTimestampUTC after which Process logs lateExecution=true")

	flags.StringVar(&c.MetricsBindAddr, "metricsBindAddr", envOr("metricsBindAddr", ":9090"),
		"the bind address for the Prometheus /metrics endpoint")
}

// Preflight validates the bound values and parses
// webhookRetryBackoffMillisSequence, mirroring the teacher's
// Config.Preflight shape (internal/source/server.Config.Preflight).
func (c *Config) Preflight() error {
	if c.DatabaseURL == "" {
		return errors.New("databaseURL unset")
	}
	if c.PollInterval <= 0 {
		return errors.New("pollIntervalSeconds must be positive")
	}
	if c.ClaimBatchLimit <= 0 {
		return errors.New("claimBatchLimit must be positive")
	}
	if c.RecoveryBatchLimit <= 0 {
		return errors.New("recoveryBatchLimit must be positive")
	}
	if c.WebhookTimeout <= 0 {
		return errors.New("webhookTimeoutMillis must be positive")
	}
	if c.QueueVisibilityTimeout <= 0 {
		return errors.New("queueVisibilityTimeoutSeconds must be positive")
	}
	if c.QueueVisibilityTimeout < c.WebhookTimeout {
		return errors.New("queueVisibilityTimeoutSeconds must be at least webhookTimeoutMillis worth of worst-case webhook processing time")
	}
	if c.QueueMaxReceiveCount <= 0 {
		return errors.New("queueMaxReceiveCount must be positive")
	}
	if (c.SQSQueueURL == "") != (c.SQSDLQURL == "") {
		return errors.New("sqsQueueURL and sqsDLQURL must both be set, or neither (for in-memory mode)")
	}
	if c.DeliveryTimeOverride != "" {
		if _, err := time.Parse("15:04:05", c.DeliveryTimeOverride); err != nil {
			return errors.Wrap(err, "deliveryTimeOverride must be HH:MM:SS")
		}
	}
	if c.LateExecutionGrace < 0 {
		return errors.New("lateExecutionGraceMillis must not be negative")
	}

	backoff, err := parseBackoffSequence(c.webhookRetryBackoffRaw)
	if err != nil {
		return errors.Wrap(err, "webhookRetryBackoffMillisSequence")
	}
	c.WebhookRetryBackoff = backoff

	return nil
}

func parseBackoffSequence(raw string) ([]time.Duration, error) {
	parts := strings.Split(raw, ",")
	backoff := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ms, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid millisecond value %q", p)
		}
		if ms <= 0 {
			return nil, errors.Errorf("backoff value %q must be positive", p)
		}
		backoff = append(backoff, time.Duration(ms)*time.Millisecond)
	}
	if len(backoff) == 0 {
		return nil, errors.New("must contain at least one positive millisecond value")
	}
	return backoff, nil
}

func envOr(name, def string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationSeconds(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Second
}

func envDurationMillis(name string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
