// Command client connects to a slam server, optionally subscribes players
// and reports a result, then prints every packet it receives.
package main

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pjsph/slam/internal/models"
	"github.com/pjsph/slam/internal/protocol"
	"github.com/pjsph/slam/pkg/logger"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	addr := pflag.StringP("addr", "a", "127.0.0.1:8888", "server TCP address")
	groupSize := pflag.IntP("group-size", "n", 2, "players per team, must match the server")
	subscribe := pflag.UintSlice("subscribe", nil, "player ids to receive matches for (default: every match)")
	reportMatch := pflag.Uint64("report-match", 0, "match id to report a result for")
	winner := pflag.Uint32("winner", 0, "winning group index, 4294967295 for a draw")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	l, err := logger.New(*level)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer l.Sync()

	conn, err := net.DialTimeout("tcp", *addr, 5*time.Second)
	if err != nil {
		l.Fatal("Failed to connect", zap.String("addr", *addr), zap.Error(err))
	}
	defer conn.Close()
	l.Info("Connected", zap.String("addr", *addr))

	for _, id := range *subscribe {
		if _, err := conn.Write(protocol.EncodeSubscribe(models.PlayerID(id))); err != nil {
			l.Fatal("Failed to subscribe", zap.Error(err))
		}
	}

	if pflag.CommandLine.Changed("report-match") {
		report := models.ResultReport{MatchID: *reportMatch, Winner: *winner}
		if _, err := conn.Write(protocol.EncodeResult(report)); err != nil {
			l.Fatal("Failed to report result", zap.Error(err))
		}
	}

	if err := receive(conn, protocol.NewCodec(*groupSize), l); err != nil {
		l.Error("Connection closed", zap.Error(err))
		os.Exit(1)
	}
}

func receive(conn net.Conn, codec *protocol.Codec, l *zap.Logger) error {
	framer := protocol.NewFramer(codec, protocol.ClientBound)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			framer.Feed(buf[:n])
			for {
				p, perr := framer.Next()
				if perr != nil {
					return perr
				}
				if p == nil {
					break
				}
				printPacket(l, p)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return framer.Close()
			}
			return err
		}
	}
}

func printPacket(l *zap.Logger, p protocol.Packet) {
	switch pkt := p.(type) {
	case protocol.MatchPacket:
		fields := []zap.Field{zap.Uint64("matchId", pkt.Match.ID())}
		for i, g := range pkt.Match.Groups {
			fields = append(fields, zap.Any("group"+strconv.Itoa(i), g))
		}
		l.Info("Match", fields...)
	case protocol.ResultAckPacket:
		l.Info("Result acknowledged",
			zap.Uint64("matchId", pkt.MatchID),
			zap.Stringer("status", pkt.Status))
	}
}
