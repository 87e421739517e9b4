package script

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"mercator-hq/callisto/pkg/httpwire"
)

// EntryPoint is the global function every script must define.
const EntryPoint = "main"

// DefaultMaxBody bounds the response body a script may produce.
const DefaultMaxBody = 16 << 20

// Request is the view of the HTTP request handed to a script.
type Request struct {
	Method   string
	Path     string
	Query    string
	Headers  map[string]string
	Body     []byte
	ClientIP string
}

// Response collects what a script produced.
type Response struct {
	Status int
	Header []httpwire.Field
	Body   []byte
}

// HTTP converts the response to its wire form. The length is always
// declared so the connection can be reused afterwards.
func (r *Response) HTTP() *httpwire.Response {
	resp := &httpwire.Response{Status: r.Status, Body: r.Body}

	hasType := false
	for _, f := range r.Header {
		if strings.EqualFold(f.Key, "Content-Length") || strings.EqualFold(f.Key, "Connection") {
			continue
		}
		if strings.EqualFold(f.Key, "Content-Type") {
			hasType = true
		}
		resp.Set(f.Key, f.Value)
	}
	if !hasType {
		resp.Set("Content-Type", "text/html; charset=utf-8")
	}
	if len(r.Body) == 0 {
		resp.Set("Content-Length", "0")
	}
	return resp
}

// Engine runs Lua scripts.
type Engine struct {
	// MaxBody bounds the response body. Zero means DefaultMaxBody.
	MaxBody int

	// MemoryLimit bounds the process heap in bytes while a script runs.
	// A script that pushes the heap past it is aborted with a MemoryError.
	// Zero means unbounded.
	MemoryLimit int64
}

// Run loads file, calls main(req, res) and returns the response. Errors
// raised by the script are returned as *Error. Cancelling ctx aborts the
// script.
func (e *Engine) Run(ctx context.Context, file string, req *Request) (*Response, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	openLibs(L)

	if e.MemoryLimit > 0 {
		var cancel context.CancelCauseFunc
		ctx, cancel = context.WithCancelCause(ctx)
		defer cancel(nil)
		go watchMemory(ctx, cancel, uint64(e.MemoryLimit))
		boundRep(L, e.MemoryLimit)
	}
	L.SetContext(ctx)

	if err := L.DoFile(file); err != nil {
		return nil, convertError(ctx, err)
	}

	fn := L.GetGlobal(EntryPoint)
	if fn.Type() != lua.LTFunction {
		return nil, &Error{
			Name:    "TypeError",
			Message: fmt.Sprintf("%s is not a function in %s", EntryPoint, file),
			Code:    "ENOENTRY",
		}
	}

	maxBody := e.MaxBody
	if maxBody <= 0 {
		maxBody = DefaultMaxBody
	}
	resp := &Response{Status: http.StatusOK}
	res := newResponseTable(L, resp, maxBody)

	err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, newRequestTable(L, req), res)
	if err != nil {
		return nil, convertError(ctx, err)
	}
	return resp, nil
}

// openLibs opens the libraries scripts may use. io and os are left out so
// scripts cannot touch the filesystem or the process.
func openLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func newRequestTable(L *lua.LState, req *Request) *lua.LTable {
	t := L.NewTable()
	t.RawSetString("method", lua.LString(req.Method))
	t.RawSetString("path", lua.LString(req.Path))
	t.RawSetString("query", lua.LString(req.Query))
	t.RawSetString("body", lua.LString(req.Body))
	t.RawSetString("client_ip", lua.LString(req.ClientIP))

	headers := L.NewTable()
	for k, v := range req.Headers {
		headers.RawSetString(strings.ToLower(k), lua.LString(v))
	}
	t.RawSetString("headers", headers)
	return t
}

// newResponseTable builds the res object. Its functions work both as
// res.write(s) and res:write(s).
func newResponseTable(L *lua.LState, resp *Response, maxBody int) *lua.LTable {
	t := L.NewTable()

	arg := func(L *lua.LState, n int) lua.LValue {
		if L.Get(1) == t {
			n++
		}
		return L.Get(n)
	}

	t.RawSetString("status", L.NewFunction(func(L *lua.LState) int {
		code, ok := arg(L, 1).(lua.LNumber)
		if !ok {
			L.ArgError(1, "status code expected")
		}
		resp.Status = int(code)
		return 0
	}))

	t.RawSetString("header", L.NewFunction(func(L *lua.LState) int {
		key, value := arg(L, 1).String(), arg(L, 2).String()
		if key == "" || strings.ContainsAny(key+value, "\r\n") {
			L.ArgError(1, "invalid header")
		}
		resp.Header = append(resp.Header, httpwire.Field{Key: key, Value: value})
		return 0
	}))

	t.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		s := lua.LVAsString(arg(L, 1))
		if len(resp.Body)+len(s) > maxBody {
			L.RaiseError("response body exceeds %d bytes", maxBody)
		}
		resp.Body = append(resp.Body, s...)
		return 0
	}))

	return t
}

func convertError(ctx context.Context, err error) *Error {
	if errors.Is(context.Cause(ctx), ErrMemoryLimit) {
		return &Error{Name: "MemoryError", Message: ErrMemoryLimit.Error(), Code: "ENOMEM"}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &Error{Name: "TimeoutError", Message: ctxErr.Error(), Code: "ETIMEDOUT"}
	}

	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &Error{Name: "Error", Message: err.Error()}
	}

	e := &Error{Message: apiErr.Object.String(), Stack: apiErr.StackTrace}
	switch apiErr.Type {
	case lua.ApiErrorSyntax:
		e.Name, e.Code = "SyntaxError", "ESYNTAX"
	case lua.ApiErrorFile:
		e.Name, e.Code = "FileError", "ENOENT"
	case lua.ApiErrorPanic:
		e.Name, e.Code = "PanicError", "EPANIC"
	default:
		e.Name, e.Code = "RuntimeError", "ERUNTIME"
	}
	if e.Stack == "" {
		e.Stack = e.Name + ": " + e.Message
	}
	return e
}
