package httpserver_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/dispatcher/internal/httpserver"
)

var _ = Describe("HTTP Server", func() {
	noop := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	Context("server creation", func() {
		DescribeTable("valid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).NotTo(HaveOccurred())
				Expect(srv).NotTo(BeNil())
			},
			Entry("host name", "localhost:9999"),
			Entry("IP address", "127.0.0.1:9999"),
			Entry("port only", ":9999"),
		)

		DescribeTable("invalid addresses",
			func(addr string) {
				srv, err := httpserver.New(addr, noop)
				Expect(err).To(HaveOccurred())
				Expect(srv).To(BeNil())
			},
			Entry("too many colons", "invalid:host:port"),
			Entry("missing port", "localhost:"),
			Entry("bad host", "bad_host!:9000"),
		)
	})

	Context("server lifecycle", func() {
		var srv *httpserver.Server

		AfterEach(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		})

		It("starts and handles requests", func() {
			var err error
			srv, err = httpserver.New("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("test"))
			}))
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Addr()).To(BeNil())

			Expect(srv.Listen()).To(Succeed())
			go func() {
				_ = srv.Serve()
			}()

			resp, err := http.Get("http://" + srv.Addr().String())
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("test"))
		})

		It("reports bind errors from Listen", func() {
			taken, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			defer taken.Close()

			srv, err = httpserver.New(taken.Addr().String(), noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).NotTo(Succeed())
		})

		It("refuses to serve before Listen", func() {
			var err error
			srv, err = httpserver.New("127.0.0.1:0", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Serve()).To(MatchError(ContainSubstring("before Listen")))
		})

		It("shuts down gracefully", func() {
			var err error
			srv, err = httpserver.New("127.0.0.1:0", noop)
			Expect(err).NotTo(HaveOccurred())
			Expect(srv.Listen()).To(Succeed())

			served := make(chan error, 1)
			go func() {
				served <- srv.Serve()
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			Expect(srv.Shutdown(ctx)).To(Succeed())
			Eventually(served).Should(Receive(BeNil()))
		})
	})
})
