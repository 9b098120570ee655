// Package command drives the receiver's request/acknowledgment protocol.
//
// A command is written as one CRLF-terminated line. The receiver answers with
// a line starting with the ACK marker ("$command") that echoes the command.
// Until that answer arrives the command is resent once per timeout.
package command
