// Command mysqlcli is a small demonstration client: it loads a pool.Config
// from a YAML file, acquires one connection, runs a query, and prints the
// rows to stdout. It exists to exercise conn/pool end-to-end the way
// cmd/proxy wires its own server up from a config file and a set of
// plugins.
package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	"github.com/meoying/mysqlcore/pool"
)

func main() {
	cfile := pflag.String("config", "config.yaml", "pool config file path")
	query := pflag.String("query", "SELECT 1", "query to run once connected")
	pflag.Parse()

	cfg, err := pool.LoadConfig(*cfile)
	if err != nil {
		panic(errors.Wrap(err, "mysqlcli: loading config"))
	}

	p := pool.New(cfg, pool.NewDialer(cfg))
	defer func() { _ = p.Close(context.Background()) }()

	ctx := context.Background()
	c, err := p.Acquire(ctx)
	if err != nil {
		panic(errors.Wrap(err, "mysqlcli: acquiring connection"))
	}
	defer p.Release(ctx, c, false)

	stream, err := c.Query(ctx, *query)
	if err != nil {
		panic(errors.Wrap(err, "mysqlcli: running query"))
	}
	defer func() { _ = stream.Close(ctx) }()

	cols := stream.Columns()
	for {
		row, ok, err := stream.Next(ctx)
		if err != nil {
			panic(errors.Wrap(err, "mysqlcli: reading row"))
		}
		if !ok {
			break
		}
		for i, v := range row {
			if i > 0 {
				fmt.Print("\t")
			}
			s, err := v.AsString()
			if err != nil {
				s = "<null>"
			}
			fmt.Print(cols[i].Name, "=", s)
		}
		fmt.Println()
	}

	end := stream.End()
	fmt.Printf("affected_rows=%d last_insert_id=%d\n", end.AffectedRows, end.LastInsertID)
}
