package cluster

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/bodand/shibsp-redis/internal/respfake"
)

// fakeNode is a minimal hand-rolled RESP server used to script CLUSTER
// SLOTS and MOVED replies that miniredis cannot produce (it implements no
// cluster-mode commands). It mirrors the teacher's own integration tests,
// which likewise stand up a real net.Listener and drive it with a real
// client rather than mocking at the Go interface level; wire encoding and
// command parsing are delegated to respfake, adapted from the teacher's
// own RESP codec.
type fakeNode struct {
	mu       sync.Mutex
	ln       net.Listener
	handlers map[string]func(args []string) string
	addr     string
}

func newFakeNode(t interface{ Helper() }) *fakeNode {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	f := &fakeNode{ln: ln, handlers: make(map[string]func(args []string) string), addr: ln.Addr().String()}
	go f.serve()
	return f
}

// on registers a canned reply for a command name (case-insensitive).
func (f *fakeNode) on(cmd string, handler func(args []string) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[strings.ToUpper(cmd)] = handler
}

func (f *fakeNode) addrHostPort() (string, int) {
	host, portStr, _ := net.SplitHostPort(f.addr)
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func (f *fakeNode) close() { f.ln.Close() }

func (f *fakeNode) serve() {
	for {
		c, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handleConn(c)
	}
}

// handleConn serves one connection, tracking enough MULTI/EXEC state to let
// a transactional pipeline (as Connection.Set/UpdateVersioned issue) round
// trip realistically: MULTI queues (+QUEUED), EXEC replays the queued
// commands' canned replies as one RESP array.
func (f *fakeNode) handleConn(c net.Conn) {
	defer c.Close()
	r := bufio.NewReader(c)

	var inMulti bool
	var queued []string

	for {
		args, err := respfake.ReadCommand(r)
		if err != nil {
			return
		}
		if len(args) == 0 {
			continue
		}
		name := strings.ToUpper(args[0])

		var resp string
		switch name {
		case "MULTI":
			inMulti = true
			queued = nil
			resp = respfake.OK
		case "EXEC":
			inMulti = false
			resp = "*" + strconv.Itoa(len(queued)) + "\r\n" + strings.Join(queued, "")
			queued = nil
		case "WATCH", "UNWATCH":
			resp = respfake.OK
		default:
			if inMulti {
				queued = append(queued, f.reply(name, args[1:]))
				resp = respfake.SimpleString("QUEUED").Encode()
			} else {
				resp = f.reply(name, args[1:])
			}
		}

		if _, err := c.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func (f *fakeNode) reply(name string, args []string) string {
	f.mu.Lock()
	handler := f.handlers[name]
	f.mu.Unlock()
	if handler != nil {
		return handler(args)
	}
	return respfake.OK
}

// clusterSlotsReply builds a CLUSTER SLOTS RESP array reply covering the
// given [from,to] range, pointing at host:port. The master entry carries a
// throwaway 40-char node id, matching real Redis's 3-element shape.
func clusterSlotsReply(from, to uint16, host string, port int) string {
	nodeID := "0000000000000000000000000000000000000000"
	return respfake.Array{
		respfake.Array{
			respfake.Integer(from),
			respfake.Integer(to),
			respfake.Array{
				respfake.Bulk(host),
				respfake.Integer(int64(port)),
				respfake.Bulk(nodeID),
			},
		},
	}.Encode()
}

func movedReply(slot uint16, host string, port int) string {
	msg := "MOVED " + strconv.Itoa(int(slot)) + " " + host + ":" + strconv.Itoa(port)
	return respfake.Error(msg).Encode()
}
