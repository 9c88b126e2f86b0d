// Package server is the crawler front-end.
//
// A Server binds one UDP socket per configured port, keeps a routing table
// and protocol engine for each, and runs the worker pool that executes the
// follow-up tasks. It also serves as the environment those tasks run in:
// sending from the right socket, resolving bootstrap routers, fetching
// metadata and recording it.
//
//	opts, err := server.OptionsFromConfig(cfg)
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(opts)
//	if err != nil {
//	    return err
//	}
//	return srv.Run(ctx)
package server
