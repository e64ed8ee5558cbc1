// Package pgwire establishes pooled connections that speak the PostgreSQL
// frontend/backend protocol.
package pgwire

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/guileen/pglitepool/network"
)

// ServiceIDParameter is the ParameterStatus a load balancer reports to name
// the backend service behind it.
const ServiceIDParameter = "service_id"

const defaultHandshakeTimeout = 10 * time.Second

// ServerError is an ErrorResponse received during the startup handshake
type ServerError struct {
	Severity string
	Code     string
	Message  string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// ErrUnsupportedAuth is returned when the server asks for an authentication
// method other than cleartext or MD5 password.
var ErrUnsupportedAuth = errors.New("unsupported authentication method")

// Establisher opens a TCP connection and runs the PostgreSQL startup
// handshake on it.
type Establisher struct {
	User     string
	Password string
	Database string
	// Params are extra startup parameters such as application_name.
	Params map[string]string
	// Timeout bounds dialing and the handshake together.
	Timeout time.Duration
}

// NewEstablisher creates an establisher that authenticates as user
func NewEstablisher(user, password, database string) *Establisher {
	return &Establisher{
		User:     user,
		Password: password,
		Database: database,
		Timeout:  defaultHandshakeTimeout,
	}
}

// Establish implements network.Establisher.
func (e *Establisher) Establish(ctx context.Context, params network.ConnectionParams) (network.Transport, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	nc, err := network.NewTCPEstablisher(timeout).Dial(ctx, params.Address)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		_ = nc.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = nc.SetDeadline(time.Now())
	})
	defer stop()

	conn := &Conn{
		NetConn:  nc,
		frontend: pgproto3.NewFrontend(nc, nc),
		params:   make(map[string]string),
	}
	if err := e.handshake(conn); err != nil {
		_ = nc.Close()
		if cerr := ctx.Err(); cerr != nil {
			err = fmt.Errorf("%w: %v", cerr, err)
		} else if errors.Is(err, os.ErrDeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return nil, network.NewNetworkError("handshake", params.Address, err)
	}

	if err := nc.SetDeadline(time.Time{}); err != nil {
		_ = nc.Close()
		return nil, network.NewNetworkError("handshake", params.Address, err)
	}

	conn.auth = &network.AuthContext{
		Credentials: &network.Credentials{
			Username:  e.User,
			Password:  e.Password,
			Source:    e.Database,
			Mechanism: conn.mechanism,
		},
		ServerParameters: conn.params,
	}
	return conn, nil
}

func (e *Establisher) startupParameters() map[string]string {
	params := make(map[string]string, len(e.Params)+2)
	for k, v := range e.Params {
		params[k] = v
	}
	params["user"] = e.User
	if e.Database != "" {
		params["database"] = e.Database
	}
	return params
}

func (e *Establisher) handshake(c *Conn) error {
	c.frontend.Send(&pgproto3.StartupMessage{
		ProtocolVersion: pgproto3.ProtocolVersionNumber,
		Parameters:      e.startupParameters(),
	})
	if err := c.frontend.Flush(); err != nil {
		return fmt.Errorf("send startup message: %w", err)
	}

	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}

		switch msg := msg.(type) {
		case *pgproto3.AuthenticationOk:
		case *pgproto3.AuthenticationCleartextPassword:
			c.mechanism = "password"
			if err := c.sendPassword(e.Password); err != nil {
				return err
			}
		case *pgproto3.AuthenticationMD5Password:
			c.mechanism = "md5"
			if err := c.sendPassword(md5Password(e.User, e.Password, msg.Salt)); err != nil {
				return err
			}
		case *pgproto3.AuthenticationSASL:
			return fmt.Errorf("%w: SASL %v", ErrUnsupportedAuth, msg.AuthMechanisms)
		case *pgproto3.ParameterStatus:
			c.params[msg.Name] = msg.Value
			if msg.Name == ServiceIDParameter {
				if sid, err := uuid.Parse(msg.Value); err == nil {
					c.serviceID = &sid
				}
			}
		case *pgproto3.BackendKeyData:
			c.processID = msg.ProcessID
		case *pgproto3.ErrorResponse:
			return &ServerError{Severity: msg.Severity, Code: msg.Code, Message: msg.Message}
		case *pgproto3.NoticeResponse:
		case *pgproto3.ReadyForQuery:
			return nil
		default:
			return fmt.Errorf("unexpected message during startup: %T", msg)
		}
	}
}

// md5Password computes "md5" + md5(md5(password + user) + salt)
func md5Password(user, password string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt[:]...))
	return "md5" + hex.EncodeToString(outer[:])
}
