package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"ftsession/internal/errors"
)

// Greeting is the first line the server sends on every control connection
const Greeting = "HELLO"

// Verb is a client command keyword
type Verb string

const (
	VerbList     Verb = "LIST"
	VerbGet      Verb = "GET"
	VerbDataPort Verb = "DATA_PORT"
	VerbExit     Verb = "EXIT"
)

// Response is a server status line
type Response string

const (
	ResponseOK           Response = "OK"
	ResponseFileNotFound Response = "ERROR_FILE_NOT_FOUND"
	ResponseGeneric      Response = "ERROR_GENERIC"
)

// Request is one parsed client line
type Request struct {
	Verb     Verb
	Filename string // GET only
	Port     int    // DATA_PORT only
}

// ListRequest asks for a directory listing
func ListRequest() Request {
	return Request{Verb: VerbList}
}

// GetRequest asks for a named file
func GetRequest(filename string) Request {
	return Request{Verb: VerbGet, Filename: filename}
}

// DataPortRequest announces the client's data listener
func DataPortRequest(port int) Request {
	return Request{Verb: VerbDataPort, Port: port}
}

// ExitRequest ends the session
func ExitRequest() Request {
	return Request{Verb: VerbExit}
}

// String renders the request as it goes on the wire, without the newline
func (r Request) String() string {
	switch r.Verb {
	case VerbGet:
		return string(VerbGet) + " " + r.Filename
	case VerbDataPort:
		return string(VerbDataPort) + " " + strconv.Itoa(r.Port)
	default:
		return string(r.Verb)
	}
}

// CarriesPayload reports whether the server answers the request with a
// data-channel transfer
func (r Request) CarriesPayload() bool {
	return r.Verb == VerbList || r.Verb == VerbGet
}

// ParseRequest parses one client line. The filename of GET is opaque here
// and may contain spaces; only surrounding whitespace is dropped. Errors
// match errors.ErrMalformedRequest.
func ParseRequest(line string) (Request, error) {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch Verb(verb) {
	case VerbList, VerbExit:
		if arg != "" {
			return Request{}, malformed(fmt.Sprintf("%s takes no argument", verb), nil)
		}
		return Request{Verb: Verb(verb)}, nil

	case VerbGet:
		if arg == "" {
			return Request{}, malformed("GET requires a filename", nil)
		}
		return GetRequest(arg), nil

	case VerbDataPort:
		port, err := strconv.Atoi(arg)
		if err != nil {
			return Request{}, malformed(fmt.Sprintf("invalid data port %q", arg), err)
		}
		if port < 1 || port > 65535 {
			return Request{}, malformed(fmt.Sprintf("data port %d out of range", port), nil)
		}
		return DataPortRequest(port), nil

	default:
		return Request{}, malformed(fmt.Sprintf("unknown command %q", verb), nil)
	}
}

func malformed(message string, cause error) error {
	err := errors.ErrMalformedRequest
	if cause != nil {
		err = fmt.Errorf("%w: %v", errors.ErrMalformedRequest, cause)
	}
	return errors.NewProtocolError("parse_request", message, err)
}

// ParseResponse parses one server status line
func ParseResponse(line string) (Response, error) {
	switch resp := Response(strings.TrimSpace(line)); resp {
	case ResponseOK, ResponseFileNotFound, ResponseGeneric:
		return resp, nil
	default:
		return "", errors.NewProtocolError("parse_response",
			fmt.Sprintf("malformed response %q", line), nil)
	}
}
