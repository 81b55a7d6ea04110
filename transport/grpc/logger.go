package grpc

import (
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/grpclog"
)

// SetLogger routes the gRPC library's internal logs through l. It must be called
// before any server or client is created.
func SetLogger(l *logrus.Logger) {
	grpclog.SetLoggerV2(grpclog.NewLoggerV2(
		l.WriterLevel(logrus.InfoLevel),
		l.WriterLevel(logrus.WarnLevel),
		l.WriterLevel(logrus.ErrorLevel),
	))
}
