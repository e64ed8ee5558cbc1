package pgwire

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/guileen/pglitepool/network"
)

const terminateTimeout = time.Second

// Conn is an authenticated PostgreSQL session
type Conn struct {
	*network.NetConn

	frontend  *pgproto3.Frontend
	params    map[string]string
	processID uint32
	serviceID *uuid.UUID
	mechanism string
	auth      *network.AuthContext
}

// Frontend returns the protocol frontend for issuing messages
func (c *Conn) Frontend() *pgproto3.Frontend { return c.frontend }

// ParameterStatus returns a server parameter reported during startup
func (c *Conn) ParameterStatus(name string) (string, bool) {
	v, ok := c.params[name]
	return v, ok
}

// ProcessID returns the backend process id
func (c *Conn) ProcessID() uint32 { return c.processID }

// ServiceID implements network.ServiceIdentifier.
func (c *Conn) ServiceID() (uuid.UUID, bool) {
	if c.serviceID == nil {
		return uuid.UUID{}, false
	}
	return *c.serviceID, true
}

// AuthContext implements network.Authenticated.
func (c *Conn) AuthContext() *network.AuthContext { return c.auth }

// Terminate sends Terminate and closes the socket
func (c *Conn) Terminate() error {
	if c.Closed() {
		return nil
	}
	_ = c.SetWriteDeadline(time.Now().Add(terminateTimeout))
	c.frontend.Send(&pgproto3.Terminate{})
	_ = c.frontend.Flush()
	return c.Close()
}
