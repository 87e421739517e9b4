// Package script runs server side Lua scripts.
//
// A script defines a global main function receiving the request and a
// response object:
//
//	function main(req, res)
//	    res.status(200)
//	    res.header("Content-Type", "text/plain")
//	    res.write("hello " .. req.client_ip)
//	end
//
// req carries method, path, query, headers (lower case keys), body and
// client_ip. Only the base, table, string and math libraries are available.
package script
