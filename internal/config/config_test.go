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

package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bound(t *testing.T, args ...string) *Config {
	t.Helper()
	c := &Config{}
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.Bind(flags)
	require.NoError(t, flags.Parse(args))
	return c
}

func TestBind_Defaults(t *testing.T) {
	c := bound(t, "--databaseURL=postgres://localhost/test")
	require.NoError(t, c.Preflight())

	assert.Equal(t, 60*time.Second, c.PollInterval)
	assert.Equal(t, 100, c.ClaimBatchLimit)
	assert.Equal(t, 1000, c.RecoveryBatchLimit)
	assert.Equal(t, 10*time.Second, c.WebhookTimeout)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, c.WebhookRetryBackoff)
	assert.Equal(t, 30*time.Second, c.QueueVisibilityTimeout)
	assert.Equal(t, 3, c.QueueMaxReceiveCount)
	assert.Equal(t, 5*time.Minute, c.LateExecutionGrace)
}

func TestPreflight_MissingDatabaseURL(t *testing.T) {
	c := bound(t)
	assert.Error(t, c.Preflight())
}

func TestPreflight_MismatchedSQSURLs(t *testing.T) {
	c := bound(t, "--databaseURL=postgres://localhost/test", "--sqsQueueURL=https://sqs.example.com/q")
	assert.Error(t, c.Preflight())
}

func TestPreflight_VisibilityTimeoutBelowWebhookTimeout(t *testing.T) {
	c := bound(t,
		"--databaseURL=postgres://localhost/test",
		"--webhookTimeoutMillis=60000",
		"--queueVisibilityTimeoutSeconds=5",
	)
	assert.Error(t, c.Preflight())
}

func TestPreflight_InvalidDeliveryTimeOverride(t *testing.T) {
	c := bound(t, "--databaseURL=postgres://localhost/test", "--deliveryTimeOverride=not-a-time")
	assert.Error(t, c.Preflight())
}

func TestPreflight_CustomBackoffSequence(t *testing.T) {
	c := bound(t, "--databaseURL=postgres://localhost/test", "--webhookRetryBackoffMillisSequence=500,1500")
	require.NoError(t, c.Preflight())
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond}, c.WebhookRetryBackoff)
}

func TestPreflight_InvalidBackoffSequence(t *testing.T) {
	c := bound(t, "--databaseURL=postgres://localhost/test", "--webhookRetryBackoffMillisSequence=500,not-a-number")
	assert.Error(t, c.Preflight())
}
