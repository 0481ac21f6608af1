// Package socketcanv2 is a SocketCAN driver using raw sockets
// from golang.org/x/sys/unix. Linux only.
package socketcanv2
