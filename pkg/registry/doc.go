// Package registry looks up inhabitants in the municipal census registry.
//
// Only the columns of catalog fields the caller's role allows are selected;
// the query is built with squirrel so the same code runs against Oracle in
// production and postgres or sqlite3 elsewhere. Values are rendered for
// display: dates as "2 de ENERO, 2006", T/F flags as Sí/No, gender codes by
// name and instruction level codes through a cached description table.
package registry
