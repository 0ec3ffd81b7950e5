// Package pcsc implements piv.Transport over a real PC/SC reader stack
// via github.com/ebfe/scard. It is the one package in this module that
// touches physical hardware; everything above it programs against
// piv.Transport so it can be exercised with fakes in tests.
package pcsc

import (
	"fmt"

	"github.com/ebfe/scard"
)

// Context wraps a PC/SC resource manager context and enumerates readers.
type Context struct {
	ctx *scard.Context
}

// EstablishContext opens a connection to the system's PC/SC resource
// manager. The returned Context must be released with Close.
func EstablishContext() (*Context, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcsc: establish context: %w", err)
	}
	return &Context{ctx: ctx}, nil
}

// ListReaders returns the names of every PC/SC reader currently attached.
func (c *Context) ListReaders() ([]string, error) {
	readers, err := c.ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcsc: list readers: %w", err)
	}
	return readers, nil
}

// Connect opens a shared-mode connection to the named reader and returns
// a Card implementing piv.Transport.
func (c *Context) Connect(reader string) (*Card, error) {
	card, err := c.ctx.Connect(reader, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("pcsc: connect %s: %w", reader, err)
	}
	return &Card{card: card, reader: reader}, nil
}

// Release releases the underlying resource manager context. It should be
// called once, after every Card it produced has been closed.
func (c *Context) Release() error {
	if err := c.ctx.Release(); err != nil {
		return fmt.Errorf("pcsc: release context: %w", err)
	}
	return nil
}

// Card is a connected smart card, implementing piv.Transport.
type Card struct {
	card   *scard.Card
	reader string
}

// Transmit sends cmd to the card and returns its raw response bytes,
// including the trailing status word.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	resp, err := c.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("pcsc: transmit: %w", err)
	}
	return resp, nil
}

// Close disconnects the card, leaving it powered for any other process
// sharing the reader.
func (c *Card) Close() error {
	if err := c.card.Disconnect(scard.LeaveCard); err != nil {
		return fmt.Errorf("pcsc: disconnect: %w", err)
	}
	return nil
}

// ReaderName returns the PC/SC reader name this card is connected
// through.
func (c *Card) ReaderName() string {
	return c.reader
}
