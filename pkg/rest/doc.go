// Package rest exposes the housing-cooperative database over HTTP.
//
// Allow-listed tables are served at /data/{table}:
//
//	Method | Path                                | Statement
//	-------|-------------------------------------|----------------------------------
//	GET    | /data/{table}                       | SELECT ... FROM table
//	POST   | /data/{table}                       | INSERT INTO table ...
//	PUT    | /data/{table}/{id_field}/{id_value} | UPDATE table SET ... WHERE id_field = id_value
//	DELETE | /data/{table}/{id_field}/{id_value} | DELETE FROM table WHERE id_field = id_value
//
// GET accepts PostgREST style query parameters:
//
//	Parameter         | Description
//	------------------|------------------------------------------------
//	?select=col1,col2 | Select specific columns
//	?order=col.desc   | Order results (supports nullsfirst/nullslast)
//	?limit=100        | Limit number of results (default: all rows)
//	?offset=0         | Pagination offset
//	?col=eq.val       | Filter by column equality
//	?col=gt.val       | Filter with greater than comparison (also gte, lt, lte, neq)
//	?col=like.val     | Filter with pattern matching (also ilike)
//	?col=in.(a,b,c)   | Filter with value lists
//	?col=is.null      | Filter for null values
//
// HTTP headers control the response of reads and writes:
//
//	Header                         | Description
//	-------------------------------|----------------------------------------
//	Prefer: return=minimal         | Return {"success", "message"} (default)
//	Prefer: return=representation  | Return the written rows
//	Prefer: count=exact            | Add the total row count in Content-Range
//
// Everything else (reports, views, stored procedures, functions and the
// resident portal) maps one request onto one query or one routine call. See
// Server.Register for the full route table.
package rest
