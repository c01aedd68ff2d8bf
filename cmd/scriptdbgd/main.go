// Command scriptdbgd is the native TCP listener (C9): for every accepted
// connection it creates a session, registers it, and runs the wire-protocol
// receive loop until the client disconnects. A second listener, opened when
// -dap-port is non-zero, speaks DAP on its own port against the same
// SessionRegistry and Loader.
package main

import (
	"flag"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/fansqz/scriptdbg/internal/config"
	"github.com/fansqz/scriptdbg/internal/dapbridge"
	"github.com/fansqz/scriptdbg/internal/image"
	"github.com/fansqz/scriptdbg/internal/session"
	"github.com/fansqz/scriptdbg/internal/wire"
)

func main() {
	configPath := flag.String("config", "", "path to a DebuggerPort/DebuggerWaitTime key=value config file")
	port := flag.Int("port", 0, "TCP port for the native wire listener (overrides config)")
	dapPort := flag.Int("dap-port", 0, "TCP port for the DAP bridge listener; 0 disables it")
	imageDir := flag.String("image-dir", ".", "directory RequestFile filenames are resolved against")
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stdout)
	entry := logrus.NewEntry(log)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			entry.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}
	if *port != 0 {
		cfg.DebuggerPort = *port
	}

	cache := image.NewCache()
	registry := session.NewRegistry()

	loader := func(filename string) ([]byte, error) {
		return os.ReadFile(joinImagePath(*imageDir, filename))
	}

	if *dapPort != 0 {
		go serveDAP(*dapPort, registry, cache, loader, entry)
	}

	listener, err := net.Listen("tcp", portAddr(cfg.DebuggerPort))
	if err != nil {
		entry.WithError(err).Fatal("failed to listen")
	}
	defer listener.Close()
	entry.Infof("scriptdbgd listening at %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			entry.WithError(err).Warn("accept failed")
			continue
		}
		go handleConnection(conn, registry, cache, loader, entry)
	}
}

func serveDAP(port int, registry *session.Registry, cache *image.Cache, loader session.Loader, log *logrus.Entry) {
	listener, err := net.Listen("tcp", portAddr(port))
	if err != nil {
		log.WithError(err).Fatal("failed to listen on dap port")
	}
	defer listener.Close()
	log.Infof("dap bridge listening at %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.WithError(err).Warn("dap accept failed")
			continue
		}
		sess := session.New(nil, log.WithField("conn", conn.RemoteAddr().String()))
		registry.Add(sess)
		bridge := dapbridge.New(conn, sess, cache, loader, log)
		go func() {
			defer registry.Remove(sess)
			defer sess.StopDebugging()
			bridge.Serve()
		}()
	}
}

// handleConnection runs one client's wire-protocol receive loop: read a
// frame, dispatch it, repeat until the connection drops or the client sends
// Disconnect/StopDebugging.
func handleConnection(conn net.Conn, registry *session.Registry, cache *image.Cache, loader session.Loader, log *logrus.Entry) {
	defer conn.Close()

	entry := log.WithField("conn", conn.RemoteAddr().String())
	wr := wire.NewWriter(conn)
	rd := wire.NewReader(conn)

	sess := session.New(wr, entry)
	registry.Add(sess)
	defer registry.Remove(sess)

	for {
		frame, err := rd.ReadFrame()
		if err != nil {
			if err != io.EOF {
				entry.WithError(err).Debug("frame read error")
			}
			sess.StopDebugging()
			return
		}
		sess.Dispatch(frame, cache, loader)
		if frame.Tag == wire.TagDisconnect || frame.Tag == wire.TagStopDebugging {
			return
		}
	}
}

func portAddr(port int) string {
	if port <= 0 {
		port = config.DefaultPort
	}
	return ":" + strconv.Itoa(port)
}

func joinImagePath(dir, filename string) string {
	if dir == "" || dir == "." {
		return filename
	}
	return filepath.Join(dir, filename)
}
