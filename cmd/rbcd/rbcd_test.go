package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/arya-analytics/rbc"
	"github.com/arya-analytics/rbc/internal/signing"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var _ = Describe("rbcd", func() {
	var dir string
	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "rbcd")
		Expect(err).ToNot(HaveOccurred())
	})
	AfterEach(func() { Expect(os.RemoveAll(dir)).To(Succeed()) })
	Describe("keygen", func() {
		It("Should write a key and print its public half", func() {
			path := filepath.Join(dir, "node.key")
			out := &bytes.Buffer{}
			rootCmd.SetOut(out)
			rootCmd.SetArgs([]string{"keygen", "--key", path})
			Expect(rootCmd.Execute()).To(Succeed())
			s, err := signing.NewEdSigner(signing.FromFile(path))
			Expect(err).ToNot(HaveOccurred())
			Expect(strings.TrimSpace(out.String())).To(Equal(s.PublicKey().String()))
			By("Refusing to overwrite it")
			rootCmd.SetArgs([]string{"keygen", "--key", path})
			Expect(rootCmd.Execute()).ToNot(Succeed())
		})
	})
	Describe("parsePeers", func() {
		It("Should parse key and address pairs", func() {
			s, err := signing.NewEdSigner()
			Expect(err).ToNot(HaveOccurred())
			peers, err := parsePeers([]string{s.PublicKey().String() + "@localhost:9091"})
			Expect(err).ToNot(HaveOccurred())
			Expect(peers).To(HaveLen(1))
			Expect(peers[0]).To(Equal(rbc.NewMember(s.PublicKey(), "localhost:9091")))
		})
		It("Should reject malformed peers", func() {
			_, err := parsePeers([]string{"localhost:9091"})
			Expect(err).To(HaveOccurred())
			_, err = parsePeers([]string{"zz@localhost:9091"})
			Expect(err).To(HaveOccurred())
		})
	})
	Describe("loadMembers", func() {
		It("Should persist configured peers across runs", func() {
			self, peer := newMember("localhost:1"), newMember("localhost:2")
			viper.Set("data", filepath.Join(dir, "data"))
			viper.Set("peers", []string{peer.PublicKey.String() + "@localhost:2"})
			members, err := loadMembers(self, "test", zap.NewNop())
			Expect(err).ToNot(HaveOccurred())
			Expect(members).To(HaveLen(2))
			viper.Set("peers", []string{})
			members, err = loadMembers(self, "test", zap.NewNop())
			Expect(err).ToNot(HaveOccurred())
			Expect(members).To(HaveKeyWithValue(peer.ID, peer))
			Expect(members).To(HaveKey(self.ID))
		})
	})
})

func newMember(addr string) rbc.Member {
	s, err := signing.NewEdSigner()
	Expect(err).ToNot(HaveOccurred())
	return rbc.NewMember(s.PublicKey(), rbc.Address(addr))
}
