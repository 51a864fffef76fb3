package server

import "context"

type FrameConn = frameConn

func ServeConnForTest(ctx context.Context, conn FrameConn, session Session) {
	serveConn(ctx, conn, session)
}
