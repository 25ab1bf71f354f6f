//go:build integration

package integration

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/eliteGoblin/dictd/internal/client"
	"github.com/eliteGoblin/dictd/internal/domain"
	"github.com/eliteGoblin/dictd/internal/protocol"
)

var _ = Describe("Dictation daemon", func() {
	var (
		e   *env
		ctx context.Context
	)

	BeforeEach(func() {
		e = newEnv()
		ctx = context.Background()
	})

	AfterEach(func() {
		e.close()
	})

	send := func(command string) *protocol.Response {
		resp, err := e.client().Send(ctx, command)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		return resp
	}

	stateOf := func() domain.State {
		return send(protocol.CommandStatus).State
	}

	Describe("auto-start", func() {
		Context("when no daemon is running", func() {
			It("reports the daemon as not running", func() {
				_, err := e.client().Send(ctx, protocol.CommandPing)
				Expect(err).To(MatchError(client.ErrDaemonNotRunning))
			})

			It("spawns exactly one daemon for concurrent callers", func() {
				launchers := []*client.Launcher{e.launcher(), e.launcher(), e.launcher()}

				var wg sync.WaitGroup
				errs := make(chan error, 2*len(launchers))
				for _, l := range launchers {
					for i := 0; i < 2; i++ {
						wg.Add(1)
						go func(l *client.Launcher) {
							defer GinkgoRecover()
							defer wg.Done()
							_, err := l.EnsureRunning(ctx)
							errs <- err
						}(l)
					}
				}
				wg.Wait()
				close(errs)

				for err := range errs {
					Expect(err).NotTo(HaveOccurred())
				}
				Expect(e.spawns.Load()).To(Equal(int32(1)))
				Expect(send(protocol.CommandPing).Message).To(Equal("pong"))
			})
		})
	})

	Describe("a dictation cycle", func() {
		BeforeEach(func() {
			_, err := e.launcher().EnsureRunning(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("starts idle with an empty context", func() {
			resp := send(protocol.CommandStatus)
			Expect(resp.Success).To(BeTrue())
			Expect(resp.State).To(Equal(domain.StateIdle))
			Expect(resp.Context.CurrentWindow).To(BeNil())
			Expect(resp.Context.LastError).To(BeNil())
			Expect(resp.Context.LastTranscription).To(BeNil())
		})

		It("records, transcribes and delivers the text", func() {
			resp := send(protocol.CommandStart)
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Message).To(Equal("Recording started"))

			Eventually(func() *domain.WindowContext {
				return send(protocol.CommandStatus).Context.CurrentWindow
			}, "2s", "20ms").ShouldNot(BeNil())
			time.Sleep(100 * time.Millisecond)

			resp = send(protocol.CommandStop)
			Expect(resp.Success).To(BeTrue())
			Expect(resp.AudioPath).To(HavePrefix(filepath.Join(e.dir, "recordings")))
			audioPath := resp.AudioPath

			Eventually(stateOf, "5s", "20ms").Should(Equal(domain.StateIdle))
			final := send(protocol.CommandStatus)
			Expect(final.Context.LastError).To(BeNil())
			Expect(final.Context.LastTranscription).To(HaveValue(Equal("hello from the mic")))

			Eventually(e.clipboard.Texts, "2s").Should(Equal([]string{"hello from the mic"}))
			Eventually(func() ([]domain.Transcription, error) {
				return e.history.Recent(5)
			}, "2s").Should(HaveLen(1))
			entries, _ := e.history.Recent(1)
			Expect(entries[0].Text).To(Equal("hello from the mic"))
			Expect(entries[0].WindowClass).To(Equal("kitty"))
			Expect(entries[0].Duration).To(BeNumerically("~", 500*time.Millisecond, 10*time.Millisecond))

			_, err := os.Stat(audioPath)
			Expect(os.IsNotExist(err)).To(BeTrue(), "recording is deleted after transcription")
		})

		It("rejects a stop while idle", func() {
			resp := send(protocol.CommandStop)
			Expect(resp.Success).To(BeFalse())
			Expect(resp.State).To(Equal(domain.StateIdle))
			Expect(resp.Error).To(Equal("Invalid transition: cannot process 'stop' in state 'idle'"))
		})

		It("rejects a second start while recording", func() {
			Expect(send(protocol.CommandStart).Success).To(BeTrue())

			resp := send(protocol.CommandStart)
			Expect(resp.Success).To(BeFalse())
			Expect(resp.State).To(Equal(domain.StateRecording))

			Expect(send(protocol.CommandCancel).Success).To(BeTrue())
			Eventually(stateOf, "2s").Should(Equal(domain.StateIdle))
		})

		It("returns to idle with an error when the service rejects the key", func() {
			e.apiStatus.Store(http.StatusUnauthorized)

			Expect(send(protocol.CommandStart).Success).To(BeTrue())
			time.Sleep(100 * time.Millisecond)
			Expect(send(protocol.CommandStop).Success).To(BeTrue())

			Eventually(stateOf, "5s", "20ms").Should(Equal(domain.StateIdle))
			final := send(protocol.CommandStatus)
			Expect(final.Context.LastError).To(HaveValue(ContainSubstring("Incorrect API key provided")))
			Expect(e.clipboard.Texts()).To(BeEmpty())
		})

		It("answers concatenated requests in order on one connection", func() {
			conn, err := net.Dial("unix", e.files.SocketPath)
			Expect(err).NotTo(HaveOccurred())
			defer conn.Close()

			_, err = conn.Write([]byte("{\"command\":\"ping\"}\n{\"command\":\"bogus\"}\nnot json\n"))
			Expect(err).NotTo(HaveOccurred())

			Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
			r := bufio.NewReader(conn)
			var lines []string
			for i := 0; i < 3; i++ {
				line, err := r.ReadString('\n')
				Expect(err).NotTo(HaveOccurred())
				lines = append(lines, line)
			}
			Expect(lines[0]).To(ContainSubstring(`"message":"pong"`))
			Expect(lines[1]).To(ContainSubstring(`"error":"Unknown command: bogus"`))
			Expect(lines[2]).To(Equal(`{"success":false,"error":"Invalid JSON"}` + "\n"))
		})

		It("removes its control files on shutdown", func() {
			Expect(e.files.SocketPath).To(BeAnExistingFile())
			Expect(e.files.PIDPath).To(BeAnExistingFile())

			resp := send(protocol.CommandShutdown)
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Message).To(Equal("Daemon shutting down"))

			Eventually(e.runErr, "5s").Should(Receive(BeNil()))
			e.cancel()
			e.cancel = nil
			Expect(e.files.SocketPath).NotTo(BeAnExistingFile())
			Expect(e.files.PIDPath).NotTo(BeAnExistingFile())

			_, err := e.client().Send(ctx, protocol.CommandPing)
			Expect(err).To(MatchError(client.ErrDaemonNotRunning))
		})
	})
})
