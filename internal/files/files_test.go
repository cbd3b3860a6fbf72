package files

import (
	"testing"

	"github.com/spf13/afero"
	. "github.com/onsi/gomega"
)

func TestWriteAtomic_CreatesParentAndContent(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()

	g.Expect(WriteAtomic(fsys, "/etc/nnoe/zones/example.com.zone", []byte("content"), 0644)).To(Succeed())

	got, err := afero.ReadFile(fsys, "/etc/nnoe/zones/example.com.zone")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(got).To(Equal([]byte("content")))
}

func TestWriteAtomic_NoTempFileLeftBehind(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()

	g.Expect(WriteAtomic(fsys, "/x/y.txt", []byte("a"), 0644)).To(Succeed())

	entries, err := afero.ReadDir(fsys, "/x")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(entries).To(HaveLen(1))
	g.Expect(entries[0].Name()).To(Equal("y.txt"))
}

func TestWriteAtomic_OverwritesExisting(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()

	g.Expect(WriteAtomic(fsys, "/f", []byte("old"), 0644)).To(Succeed())
	g.Expect(WriteAtomic(fsys, "/f", []byte("new"), 0644)).To(Succeed())

	got, err := afero.ReadFile(fsys, "/f")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(got).To(Equal([]byte("new")))
}

func TestCopy_RejectsDirectorySource(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()
	g.Expect(fsys.MkdirAll("/srcdir", 0755)).To(Succeed())

	err := Copy(fsys, "/srcdir", "/dst", 0644)
	g.Expect(err).To(MatchError(ContainSubstring("is not a regular file")))
}

func TestReadIfExists_MissingFile(t *testing.T) {
	g := NewWithT(t)
	fsys := afero.NewMemMapFs()

	_, found, err := ReadIfExists(fsys, "/nope")
	g.Expect(err).ToNot(HaveOccurred())
	g.Expect(found).To(BeFalse())
}
