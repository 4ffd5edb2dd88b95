package client

import (
	"github.com/pzhenzhou/elika-client/pkg/respio"
)

var (
	echoCmd    = []byte("ECHO")
	flushDBCmd = []byte("FLUSHDB")
	dbSizeCmd  = []byte("DBSIZE")
)

func (c *Client) Ping() (string, error) {
	return c.status(respio.PingCmd)
}

func (c *Client) Echo(message string) (string, error) {
	return c.bulk(echoCmd, respio.Encode(message))
}

// Select switches database. A pooled client switches back to its configured
// database when returned.
func (c *Client) Select(db int) (string, error) {
	status, err := c.status(respio.SelectCmd, respio.EncodeInt(int64(db)))
	if err == nil {
		c.db = db
	}
	return status, err
}

func (c *Client) Auth(password string) (string, error) {
	return c.status(respio.AuthCmd, respio.Encode(password))
}

func (c *Client) AuthUser(user, password string) (string, error) {
	return c.status(respio.AuthCmd, respio.Encode(user), respio.Encode(password))
}

func (c *Client) ClientSetName(name string) (string, error) {
	return c.status(respio.ClientCmd, []byte("SETNAME"), respio.Encode(name))
}

// ClientGetName returns common.ErrNil when no name is set.
func (c *Client) ClientGetName() (string, error) {
	return c.bulk(respio.ClientCmd, []byte("GETNAME"))
}

func (c *Client) FlushDB() (string, error) {
	return c.status(flushDBCmd)
}

func (c *Client) DBSize() (int64, error) {
	return c.integer(dbSizeCmd)
}

// Quit asks the server to close the session and disconnects.
func (c *Client) Quit() (string, error) {
	status, err := c.status(respio.QuitCmd)
	if derr := c.conn.Disconnect(); err == nil {
		err = derr
	}
	return status, err
}
