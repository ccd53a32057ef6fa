package conn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/bodand/shibsp-redis/internal/redislog"
)

// ErrConnectionLost indicates the node's transport is unusable and the
// caller (Cluster or the single-node façade) should rebuild/reconnect.
var ErrConnectionLost = errors.New("conn: connection lost")

// ErrCommandFailed indicates a non-retryable Redis error or a structurally
// unexpected reply (wrong element count, wrong reply type).
var ErrCommandFailed = errors.New("conn: command failed")

// ErrBadTopology indicates a CLUSTER SLOTS reply was structurally malformed.
var ErrBadTopology = errors.New("conn: bad topology reply")

const defaultRedirectPort = 6379

// Redirected is raised when a reply is a MOVED error, carrying the node the
// caller should retry against.
type Redirected struct {
	Host string
	Port int
}

func (r *Redirected) Error() string {
	return fmt.Sprintf("conn: redirected to %s:%d", r.Host, r.Port)
}

// classifyError turns a raw error from the wire client into one of this
// package's sentinel errors, following the same reply-type taxonomy as the
// original plugin's handleCommandError/handlePotentialMovedError.
func classifyError(fn string, err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%s: %w: %s", fn, ErrConnectionLost, err)
	}

	msg := err.Error()

	if strings.HasPrefix(msg, "MOVED ") {
		return parseMoved(msg)
	}
	if len(msg) > len("CLUSTERDO") && strings.HasPrefix(msg, "CLUSTERDOWN") {
		return fmt.Errorf("%s: %w: %s", fn, ErrConnectionLost, msg)
	}
	return fmt.Errorf("%s: %w: %s", fn, ErrCommandFailed, msg)
}

// parseMoved parses "MOVED <slot> <host>:<port>" into a *Redirected. Port
// parse failures default to 6379 with a critical-severity log, matching the
// original's stoul fallback behaviour.
func parseMoved(msg string) error {
	fields := strings.Fields(msg)
	if len(fields) < 3 {
		redislog.Critical("(parseMoved) catastrophic cascading error: malformed MOVED reply %q", msg)
		return &Redirected{Host: "", Port: defaultRedirectPort}
	}
	hostPort := fields[2]
	idx := strings.LastIndexByte(hostPort, ':')
	if idx < 0 {
		redislog.Critical("(parseMoved) catastrophic cascading error: MOVED reply missing host:port %q", msg)
		return &Redirected{Host: hostPort, Port: defaultRedirectPort}
	}
	host := hostPort[:idx]
	port, err := strconv.ParseUint(hostPort[idx+1:], 10, 32)
	if err != nil {
		redislog.Critical("(parseMoved) catastrophic cascading error: port value is not an integer, trying %d", defaultRedirectPort)
		return &Redirected{Host: host, Port: defaultRedirectPort}
	}
	return &Redirected{Host: host, Port: int(port)}
}
