// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

package qemu

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGreeting = `{"QMP":{"version":{"qemu":{"major":2,"minor":9,"micro":50},"package":""},"capabilities":["oob"]}}` + "\n"

func TestParseVersion(t *testing.T) {
	q := &Session{cfg: Config{Logger: nullLogger{}}}
	v := q.parseVersion([]byte(testGreeting))
	require.NotNil(t, v)
	assert.Equal(t, 2, v.Major)
	assert.Equal(t, 9, v.Minor)
	assert.Equal(t, 50, v.Micro)
	assert.Equal(t, []string{"oob"}, v.Capabilities)
}

func TestParseVersionInvalid(t *testing.T) {
	q := &Session{cfg: Config{Logger: nullLogger{}}}
	assert.Nil(t, q.parseVersion([]byte("not json")))
	assert.Nil(t, q.parseVersion([]byte(`{"QMP":{}}`)))
}

func TestExecuteQueryCommands(t *testing.T) {
	client, server := net.Pipe()
	disconnectedCh := make(chan struct{})
	connectedCh := make(chan *Version, 1)
	q := startLoop(client, Config{Logger: nullLogger{}}, connectedCh, disconnectedCh)

	go func() {
		_, _ = server.Write([]byte(testGreeting))
		scanner := bufio.NewScanner(server)
		for scanner.Scan() {
			var req map[string]interface{}
			_ = json.Unmarshal(scanner.Bytes(), &req)
			if req["execute"] == "query-commands" {
				_, _ = server.Write([]byte(`{"return":[{"name":"transaction"},{"name":"add-fd"}]}` + "\n"))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case v := <-connectedCh:
		require.NotNil(t, v)
	case <-ctx.Done():
		t.Fatal("timed out on greeting")
	}

	names, err := q.ExecuteQueryCommands(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"transaction", "add-fd"}, names)
}

func TestExecuteQueryKVM(t *testing.T) {
	client, server := net.Pipe()
	disconnectedCh := make(chan struct{})
	connectedCh := make(chan *Version, 1)
	q := startLoop(client, Config{Logger: nullLogger{}}, connectedCh, disconnectedCh)

	go func() {
		_, _ = server.Write([]byte(testGreeting))
		scanner := bufio.NewScanner(server)
		for scanner.Scan() {
			var req map[string]interface{}
			_ = json.Unmarshal(scanner.Bytes(), &req)
			if req["execute"] == "query-kvm" {
				_, _ = server.Write([]byte(`{"return":{"enabled":false,"present":true}}` + "\n"))
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	<-connectedCh

	state, err := q.ExecuteQueryKVM(ctx)
	require.NoError(t, err)
	assert.True(t, state.Present)
	assert.False(t, state.Enabled)
}

func TestShutdownClosesDisconnectedCh(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	disconnectedCh := make(chan struct{})
	connectedCh := make(chan *Version, 1)
	q := startLoop(client, Config{Logger: nullLogger{}}, connectedCh, disconnectedCh)

	go func() { _, _ = server.Write([]byte(testGreeting)) }()
	<-connectedCh

	q.Shutdown()
	select {
	case <-disconnectedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnectedCh was not closed after Shutdown")
	}
}

func TestStartBadPath(t *testing.T) {
	disconnectedCh := make(chan struct{})
	_, _, err := Start(context.Background(), "/nonexistent/path/to.sock", Config{}, disconnectedCh)
	assert.Error(t, err)
	select {
	case <-disconnectedCh:
	default:
		t.Fatal("disconnectedCh should be closed on dial failure")
	}
}
