package protocol

import (
	"net/http"
	"strconv"
)

// lookup table for status lines
// i use flat list instead of map bc codes is fixed
var statusTable = [505]string{
	200: "200 OK",
	400: "400 Bad Request",
	403: "403 Forbidden",
	404: "404 Not Found",
	405: "405 Method Not Allowed",
	408: "408 Request Timeout",
	413: "413 Payload Too Large",
	500: "500 Internal Server Error",
	501: "501 Not Implemented",
	503: "503 Service Unavailable",
}

// for fast access
const (
	proto = "HTTP/1.1 "
	crlf  = "\r\n"
	colon = ": "
)

// response header
type Header struct {
	Key, Val string
}

func statusLine(code int) string {
	if code < 100 || code >= len(statusTable) || statusTable[code] == "" {
		return statusTable[500]
	}
	return statusTable[code]
}

// append response to dst: status line, headers, Content-length, blank line, body
func AppendResp(dst []byte, code int, headers []Header, body []byte) []byte {
	dst = append(dst, proto...)
	dst = append(dst, statusLine(code)...)
	dst = append(dst, crlf...)

	for _, h := range headers {
		dst = append(dst, h.Key...)
		dst = append(dst, colon...)
		dst = append(dst, h.Val...)
		dst = append(dst, crlf...)
	}

	dst = append(dst, "Content-length: "...)
	dst = strconv.AppendInt(dst, int64(len(body)), 10)
	dst = append(dst, crlf...)
	dst = append(dst, crlf...)

	return append(dst, body...)
}

// html error page, always asks client to close
func ErrorPage(code int, msg string) []byte {
	if msg == "" {
		msg = http.StatusText(code)
	}
	line := strconv.Itoa(code) + " " + msg

	body := make([]byte, 0, 160)
	body = append(body, "<html><title>Error</title>"...)
	body = append(body, `<body bgcolor="ffffff">`...)
	body = append(body, line...)
	body = append(body, "<hr><em> webserver</em>\n</body></html>"...)

	out := make([]byte, 0, len(body)+128)
	out = append(out, proto...)
	out = append(out, line...)
	out = append(out, crlf...)
	out = append(out, "Content-type: text/html"+crlf...)
	out = append(out, "Connection: close"+crlf...)
	out = append(out, "Content-length: "...)
	out = strconv.AppendInt(out, int64(len(body)), 10)
	out = append(out, crlf...)
	out = append(out, crlf...)
	return append(out, body...)
}
