package wire

import "errors"

// Error kinds for the wire codec. Every value here is one entry of the
// closed error enumeration the connection processor reacts to: a non-nil
// error from Feed is always fatal for the connection.
var (
	ErrInvalidControlPacketType        = errors.New("invalid control packet type")
	ErrMalformedRemainingLength        = errors.New("malformed remaining length")
	ErrStringLengthViolation           = errors.New("string length violation")
	ErrConnectProtocolViolation        = errors.New("connect protocol violation")
	ErrProtocolNameViolation           = errors.New("protocol name violation")
	ErrUnacceptableProtocolLevel       = errors.New("unacceptable protocol level")
	ErrConnectFlagProtocolViolation    = errors.New("connect flag protocol violation")
	ErrWillMessageProtocolViolation    = errors.New("will message protocol violation")
	ErrControlPacketLength             = errors.New("control packet length violation")
	ErrMalformedControlPacket          = errors.New("malformed control packet")
	ErrPacketIdentifierLengthViolation = errors.New("packet identifier length violation")
	ErrSubscribeProtocolViolation      = errors.New("subscribe protocol violation")
	ErrDupFlagViolation                = errors.New("dup flag violation")
	ErrPublishProtocolViolation        = errors.New("publish protocol violation")
	ErrCleanSessionNotSetForEmptyID    = errors.New("clean session not set for empty client id")
)
