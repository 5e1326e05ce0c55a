// Copyright (c) 2016 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0
//

// Package qemu implements a minimal QMP (QEMU Machine Protocol) session
// client. It is deliberately narrower than a general-purpose QEMU
// launch-and-manage library: it only covers connecting to a running QMP
// socket, completing the greeting handshake, issuing commands, and
// delivering asynchronous events. Callers that need to configure and
// start a QEMU instance do so themselves (see caps.spawnMonitorProbe) and
// hand this package the resulting unix socket path.
package qemu

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Logger is the logging interface this package writes to. Callers supply
// their own implementation (typically backed by logrus) so that QMP
// session logs interleave with the rest of the program's log stream.
type Logger interface {
	V(int32) bool
	Infof(string, ...interface{})
	Warningf(string, ...interface{})
	Errorf(string, ...interface{})
}

type nullLogger struct{}

func (nullLogger) V(int32) bool                    { return false }
func (nullLogger) Infof(string, ...interface{})    {}
func (nullLogger) Warningf(string, ...interface{}) {}
func (nullLogger) Errorf(string, ...interface{})   {}

// Config configures a Session: where to deliver asynchronous events and
// where to log. Both are optional; a nil EventCh drops events, a nil
// Logger discards log output.
type Config struct {
	EventCh chan<- Event
	Logger  Logger
}

type eventFilter struct {
	eventName string
	dataKey   string
	dataValue string
}

// Event is a single QMP event delivered on Config.EventCh.
type Event struct {
	Name      string
	Data      map[string]interface{}
	Timestamp time.Time
}

type result struct {
	response interface{}
	err      error
}

type command struct {
	ctx            context.Context
	res            chan result
	name           string
	args           map[string]interface{}
	filter         *eventFilter
	resultReceived bool
}

// Session is a live connection to a QEMU instance's QMP socket. All of
// its fields are private; callers interact with it only through the
// Execute* methods and Shutdown.
type Session struct {
	cmdCh          chan command
	conn           io.ReadWriteCloser
	cfg            Config
	connectedCh    chan<- *Version
	disconnectedCh chan struct{}
	version        *Version
}

// Version is the version and capability set reported in the QMP greeting
// banner.
type Version struct {
	Major        int
	Minor        int
	Micro        int
	Capabilities []string
}

// pendingCommands is the in-flight command FIFO mainLoop serializes QMP
// traffic through. A response or matched event always resolves the
// command at the front: QMP has no request id to correlate an out-of-
// order reply against, so commands must complete in the order they were
// written to the wire.
type pendingCommands struct {
	items []*command
}

func (q *pendingCommands) push(cmd *command) {
	q.items = append(q.items, cmd)
}

func (q *pendingCommands) front() *command {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

func (q *pendingCommands) popFront() {
	if len(q.items) == 0 {
		return
	}
	q.items[0] = nil
	q.items = q.items[1:]
}

func (q *pendingCommands) len() int {
	return len(q.items)
}

func (q *pendingCommands) all() []*command {
	return q.items
}

func (q *Session) readLoop(fromVMCh chan<- []byte) {
	scanner := bufio.NewScanner(q.conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if q.cfg.Logger.V(1) {
			q.cfg.Logger.Infof("%s", string(line))
		}
		fromVMCh <- line
	}
	close(fromVMCh)
}

func (q *Session) processEvent(pending *pendingCommands, name, data, timestamp interface{}) {
	strname, ok := name.(string)
	if !ok {
		return
	}

	var eventData map[string]interface{}
	if data != nil {
		eventData, _ = data.(map[string]interface{})
	}

	if cmd := pending.front(); cmd != nil {
		if filter := cmd.filter; filter != nil && filter.eventName == strname {
			match := filter.dataKey == ""
			if !match && eventData != nil {
				match = eventData[filter.dataKey] == filter.dataValue
			}
			if match {
				if cmd.resultReceived {
					q.finaliseCommand(pending, true)
				} else {
					cmd.filter = nil
				}
			}
		}
	}

	if q.cfg.EventCh != nil {
		ev := Event{Name: strname, Data: eventData}
		if ts, ok := timestamp.(map[string]interface{}); ok {
			seconds, _ := ts["seconds"].(float64)
			micro, _ := ts["microseconds"].(float64)
			ev.Timestamp = time.Unix(int64(seconds), int64(micro))
		}
		q.cfg.EventCh <- ev
	}
}

func (q *Session) finaliseCommandWithResponse(pending *pendingCommands, succeeded bool, response interface{}) {
	cmd := pending.front()
	pending.popFront()
	select {
	case <-cmd.ctx.Done():
	default:
		if succeeded {
			cmd.res <- result{response: response}
		} else {
			cmd.res <- result{err: errors.New("QMP command failed")}
		}
	}
	if pending.len() > 0 {
		q.writeNextCommand(pending)
	}
}

func (q *Session) finaliseCommand(pending *pendingCommands, succeeded bool) {
	q.finaliseCommandWithResponse(pending, succeeded, nil)
}

func (q *Session) processInput(line []byte, pending *pendingCommands) {
	var vmData map[string]interface{}
	if err := json.Unmarshal(line, &vmData); err != nil {
		q.cfg.Logger.Warningf("unable to decode QMP response [%s]: %v", string(line), err)
		return
	}

	if evname, found := vmData["event"]; found {
		q.processEvent(pending, evname, vmData["data"], vmData["timestamp"])
		return
	}

	response, succeeded := vmData["return"]
	_, failed := vmData["error"]
	if !succeeded && !failed {
		return
	}

	cmd := pending.front()
	if cmd == nil {
		q.cfg.Logger.Warningf("unexpected QMP response [%s]", string(line))
		return
	}
	if failed || cmd.filter == nil {
		q.finaliseCommandWithResponse(pending, succeeded, response)
	} else {
		cmd.resultReceived = true
	}
}

func currentCommandDoneCh(pending *pendingCommands) <-chan struct{} {
	cmd := pending.front()
	if cmd == nil {
		return nil
	}
	return cmd.ctx.Done()
}

func (q *Session) writeNextCommand(pending *pendingCommands) {
	cmd := pending.front()
	payload := map[string]interface{}{"execute": cmd.name}
	if cmd.args != nil {
		payload["arguments"] = cmd.args
	}
	encoded, err := json.Marshal(&payload)
	if err != nil {
		cmd.res <- result{err: errors.Wrapf(err, "unable to marshal QMP command %s", cmd.name)}
		pending.popFront()
		return
	}
	q.cfg.Logger.Infof("%s", string(encoded))
	encoded = append(encoded, '\n')
	if _, err := q.conn.Write(encoded); err != nil {
		cmd.res <- result{err: errors.Wrap(err, "unable to write QMP command")}
		pending.popFront()
	}
}

func failOutstandingCommands(pending *pendingCommands) {
	for _, cmd := range pending.all() {
		select {
		case cmd.res <- result{err: errors.New("QMP session closing, command cancelled")}:
		case <-cmd.ctx.Done():
		}
	}
}

func (q *Session) cancelCurrentCommand(pending *pendingCommands) {
	cmd := pending.front()
	if cmd.resultReceived {
		q.finaliseCommand(pending, false)
	} else {
		cmd.filter = nil
	}
}

func (q *Session) parseVersion(greeting []byte) *Version {
	var qmp map[string]interface{}
	if err := json.Unmarshal(greeting, &qmp); err != nil {
		q.cfg.Logger.Errorf("invalid QMP greeting: %s", string(greeting))
		return nil
	}

	versionMap := qmp
	for _, k := range []string{"QMP", "version", "qemu"} {
		versionMap, _ = versionMap[k].(map[string]interface{})
		if versionMap == nil {
			q.cfg.Logger.Errorf("invalid QMP greeting: %s", string(greeting))
			return nil
		}
	}

	micro, _ := versionMap["micro"].(float64)
	minor, _ := versionMap["minor"].(float64)
	major, _ := versionMap["major"].(float64)

	var caps []string
	if qmpBlock, ok := qmp["QMP"].(map[string]interface{}); ok {
		if rawCaps, ok := qmpBlock["capabilities"].([]interface{}); ok {
			caps = make([]string, 0, len(rawCaps))
			for _, c := range rawCaps {
				if s, ok := c.(string); ok {
					caps = append(caps, s)
				}
			}
		}
	}

	return &Version{Major: int(major), Minor: int(minor), Micro: int(micro), Capabilities: caps}
}

// QMP commands can be issued concurrently from multiple goroutines, but
// the protocol itself has no way to correlate a response with a request,
// so mainLoop serializes them through pending: if command B is issued
// before command C, B is executed (and its response matched) before C
// even if both were initially blocked behind a slower command A.
func (q *Session) mainLoop() {
	pending := &pendingCommands{}
	fromVMCh := make(chan []byte)
	go q.readLoop(fromVMCh)

	defer func() {
		if q.cfg.EventCh != nil {
			close(q.cfg.EventCh)
		}
		_ = q.conn.Close()
		<-fromVMCh
		failOutstandingCommands(pending)
		close(q.disconnectedCh)
	}()

	var greeting []byte
	var cmdDoneCh <-chan struct{}

handshake:
	for {
		select {
		case cmd, ok := <-q.cmdCh:
			if !ok {
				return
			}
			pending.push(&cmd)
		case line, ok := <-fromVMCh:
			if !ok {
				return
			}
			greeting = line
			if pending.len() >= 1 {
				q.writeNextCommand(pending)
				cmdDoneCh = currentCommandDoneCh(pending)
			}
			break handshake
		}
	}

	q.connectedCh <- q.parseVersion(greeting)

	for {
		select {
		case cmd, ok := <-q.cmdCh:
			if !ok {
				return
			}
			pending.push(&cmd)
			if pending.len() == 1 {
				q.writeNextCommand(pending)
				cmdDoneCh = currentCommandDoneCh(pending)
			}
		case line, ok := <-fromVMCh:
			if !ok {
				return
			}
			q.processInput(line, pending)
			cmdDoneCh = currentCommandDoneCh(pending)
		case <-cmdDoneCh:
			q.cancelCurrentCommand(pending)
			cmdDoneCh = currentCommandDoneCh(pending)
		}
	}
}

func startLoop(conn io.ReadWriteCloser, cfg Config, connectedCh chan<- *Version, disconnectedCh chan struct{}) *Session {
	q := &Session{
		cmdCh:          make(chan command),
		conn:           conn,
		cfg:            cfg,
		connectedCh:    connectedCh,
		disconnectedCh: disconnectedCh,
	}
	go q.mainLoop()
	return q
}

func (q *Session) executeWithResponse(ctx context.Context, name string, args map[string]interface{}, filter *eventFilter) (interface{}, error) {
	resCh := make(chan result)
	select {
	case <-q.disconnectedCh:
		return nil, errors.New("QMP session closed, command cancelled")
	case q.cmdCh <- command{ctx: ctx, res: resCh, name: name, args: args, filter: filter}:
	}

	select {
	case res := <-resCh:
		return res.response, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Session) execute(ctx context.Context, name string, args map[string]interface{}, filter *eventFilter) error {
	_, err := q.executeWithResponse(ctx, name, args, filter)
	return err
}

// Start connects to the unix domain socket at path, waits for the QMP
// greeting, and returns a Session ready to accept commands plus the
// version/capabilities reported in that greeting. disconnectedCh is
// closed by the session if the connection is lost; callers should select
// on it to detect an unexpected exit of the probed binary.
func Start(ctx context.Context, path string, cfg Config, disconnectedCh chan struct{}) (*Session, *Version, error) {
	if cfg.Logger == nil {
		cfg.Logger = nullLogger{}
	}

	dialer := net.Dialer{Cancel: ctx.Done()}
	conn, err := dialer.Dial("unix", path)
	if err != nil {
		cfg.Logger.Warningf("unable to connect to QMP socket %s: %v", path, err)
		close(disconnectedCh)
		return nil, nil, errors.Wrap(err, "dial QMP socket")
	}

	connectedCh := make(chan *Version)
	q := startLoop(conn, cfg, connectedCh, disconnectedCh)

	select {
	case <-ctx.Done():
		q.Shutdown()
		<-disconnectedCh
		return nil, nil, ctx.Err()
	case <-disconnectedCh:
		return nil, nil, errors.New("lost connection to QMP instance")
	case q.version = <-connectedCh:
		if q.version == nil {
			return nil, nil, errors.New("failed to parse QMP greeting")
		}
	}

	return q, q.version, nil
}

// Shutdown closes the session and its underlying socket. It is safe to
// call at most once; calling it after disconnectedCh has already closed
// is a no-op.
func (q *Session) Shutdown() {
	close(q.cmdCh)
}

// ExecuteQMPCapabilities performs the qmp_capabilities handshake that
// moves the session out of the greeting state and into command mode.
func (q *Session) ExecuteQMPCapabilities(ctx context.Context) error {
	return q.execute(ctx, "qmp_capabilities", nil, nil)
}

// ExecuteQueryCommands returns the names of every QMP command the
// instance implements.
func (q *Session) ExecuteQueryCommands(ctx context.Context) ([]string, error) {
	response, err := q.executeWithResponse(ctx, "query-commands", nil, nil)
	if err != nil {
		return nil, err
	}
	return namesFromList(response, "name")
}

// ExecuteQueryEvents returns the names of every QMP event the instance
// may emit.
func (q *Session) ExecuteQueryEvents(ctx context.Context) ([]string, error) {
	response, err := q.executeWithResponse(ctx, "query-events", nil, nil)
	if err != nil {
		return nil, err
	}
	return namesFromList(response, "name")
}

// ExecuteQomListTypes returns every QOM (QEMU object model) type name
// registered with the instance, which includes every emulated device
// type.
func (q *Session) ExecuteQomListTypes(ctx context.Context) ([]string, error) {
	response, err := q.executeWithResponse(ctx, "qom-list-types", nil, nil)
	if err != nil {
		return nil, err
	}
	return namesFromList(response, "name")
}

// ExecuteQomListProperties returns the property names of the given QOM
// type.
func (q *Session) ExecuteQomListProperties(ctx context.Context, typeName string) ([]string, error) {
	response, err := q.executeWithResponse(ctx, "device-list-properties", map[string]interface{}{"typename": typeName}, nil)
	if err != nil {
		return nil, err
	}
	return namesFromList(response, "name")
}

// Machine describes one entry of the query-machines response.
type Machine struct {
	Name      string `json:"name"`
	Alias     string `json:"alias,omitempty"`
	IsDefault bool   `json:"is-default,omitempty"`
}

// ExecuteQueryMachines returns the machine types the instance can
// create.
func (q *Session) ExecuteQueryMachines(ctx context.Context) ([]Machine, error) {
	response, err := q.executeWithResponse(ctx, "query-machines", nil, nil)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(response)
	if err != nil {
		return nil, errors.Wrap(err, "unable to re-marshal query-machines response")
	}
	var machines []Machine
	if err := json.Unmarshal(data, &machines); err != nil {
		return nil, errors.Wrap(err, "unable to decode query-machines response")
	}
	return machines, nil
}

// ExecuteQueryCPUDefinitions returns the names of the CPU models the
// instance can emulate.
func (q *Session) ExecuteQueryCPUDefinitions(ctx context.Context) ([]string, error) {
	response, err := q.executeWithResponse(ctx, "query-cpu-definitions", nil, nil)
	if err != nil {
		return nil, err
	}
	return namesFromList(response, "name")
}

// AcceleratorState is the decoded response of query-kvm: whether the
// accelerator exists on this host and whether it is enabled for this
// instance.
type AcceleratorState struct {
	Present bool
	Enabled bool
}

// ExecuteQueryKVM returns the instance's KVM accelerator state.
func (q *Session) ExecuteQueryKVM(ctx context.Context) (AcceleratorState, error) {
	response, err := q.executeWithResponse(ctx, "query-kvm", nil, nil)
	if err != nil {
		return AcceleratorState{}, err
	}
	m, ok := response.(map[string]interface{})
	if !ok {
		return AcceleratorState{}, errors.New("unexpected query-kvm response shape")
	}
	enabled, _ := m["enabled"].(bool)
	present, _ := m["present"].(bool)
	return AcceleratorState{Present: present, Enabled: enabled}, nil
}

// ExecuteAddFd registers fd (already open in this process) under the
// given fdset id, with opaque as its QMP-visible label. It is used only
// to live-probe support for the add-fd command; the fd is not otherwise
// consumed by this package.
func (q *Session) ExecuteAddFd(ctx context.Context, fdset int, fd uintptr, opaque string) error {
	args := map[string]interface{}{"opaque": opaque}
	if fdset >= 0 {
		args["fdset-id"] = fdset
	}
	_, err := q.executeWithResponse(ctx, "add-fd", args, nil)
	return err
}

func namesFromList(response interface{}, key string) ([]string, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, errors.Wrap(err, "unable to re-marshal QMP list response")
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unable to decode QMP list response")
	}
	names := make([]string, 0, len(raw))
	for _, entry := range raw {
		if name, ok := entry[key].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}
