package integration

import (
	"io/ioutil"
	"os"
	"os/exec"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	. "github.com/onsi/gomega/gbytes"
	. "github.com/onsi/gomega/gexec"

	"github.com/skipor/seqcache/cmd/seqcache/config"
	"github.com/skipor/seqcache/testutil"
)

var _ = Describe("Integration", func() {
	const SessionWaitTime = 30 * time.Second
	var (
		confFile string
		inConf   config.Config // App config to run.
		env      []string
		session  *Session
	)
	BeforeEach(func() {
		confFile = testutil.TmpFileName() + ".json"
		inConf = *config.Default()
		inConf.LogLevel = "debug"
		inConf.CacheSize = "256k"
		inConf.FrameSize = "64x32"
		inConf.Frames = 40
		inConf.Scenes = 2
		inConf.Workers = 4
		env = nil
	})
	AfterEach(func() {
		os.Remove(confFile)
	})

	Run := func(args ...string) {
		err := ioutil.WriteFile(confFile, config.Marshal(&inConf), 0600)
		Expect(err).NotTo(HaveOccurred())
		command := exec.Command(SeqcacheCLI, append(args, "--config", confFile)...)
		command.Env = append(os.Environ(), env...)
		session, err = Start(command, GinkgoWriter, GinkgoWriter)
		Expect(err).ToNot(HaveOccurred(), "%v", err)
		session.Wait(SessionWaitTime)
	}

	It("version", func() {
		Run("version")
		Expect(session).To(Exit(0))
		Expect(session.Out).To(Say("seqcache version"))
	})

	It("simulate under memory pressure", func() {
		Run("simulate")
		Expect(session).To(Exit(0))
		Expect(session.Out).To(Say(`renders: \d+`))
		Expect(session.Out).To(Say(`hits: \d+`))
		Expect(session.Out).To(Say("scene 1"))
		Expect(session.Out).To(Say("cache.evict"))
		Expect(session.Out).To(Say("scene 2"))
		Expect(session.Err).To(Say("Simulation finished"))
		testutil.Byf("%s", session.Out.Contents())
	})

	It("simulate without limit", func() {
		inConf.CacheSize = "0"
		inConf.Scenes = 1
		Run("simulate")
		Expect(session).To(Exit(0))
		Expect(session.Out).To(Say(`memory: \d+/0`))
	})

	It("flags override config", func() {
		Run("simulate", "--workers", "0")
		Expect(session).To(Exit(1))
		Expect(session.Err).To(Say("Non positive workers"))
	})

	It("env overrides config", func() {
		env = []string{"SEQCACHE_CACHE_SIZE=64t"}
		Run("simulate")
		Expect(session).To(Exit(1))
		Expect(session.Err).To(Say("Invalid exponent"))
	})
})
