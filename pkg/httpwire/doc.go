// Package httpwire reads HTTP/1.1 shaped requests off a raw byte stream and
// writes hand assembled responses.
//
// Parsing happens in two steps. An Accumulator collects bytes until the
// CRLFCRLF terminator arrives, and ParseHead turns the buffer into a Head
// carrying headers and the derived client address. Head.Request then
// validates the request line. Splitting the two lets admission control run
// before the request line is trusted:
//
//	acc := httpwire.NewAccumulator(maxPacketSize)
//	if _, err := acc.Write(chunk); err != nil {
//	    // 431
//	}
//	if !acc.Complete() {
//	    return // wait for more bytes
//	}
//	head, _ := httpwire.ParseHead(acc.Bytes(), conn.RemoteAddr())
//	req, err := head.Request() // 418 or 405 on failure
//
// Responses only use the status codes listed in StatusText; any other code
// is sent as 500. There is no chunked encoding.
package httpwire
