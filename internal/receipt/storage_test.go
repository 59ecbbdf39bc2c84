package receipt

import (
	"context"
	"net/http"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"google.golang.org/api/option"
)

var _ = Describe("LocalStorage", func() {
	var (
		ctx     context.Context
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir, "http://localhost:8080/")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			path string
			err  error
		)

		BeforeEach(func() {
			path = "alice/receipt_1.jpg"
		})

		JustBeforeEach(func() {
			err = storage.Save(ctx, path, []byte("test file content"), "image/jpeg")
		})

		When("saving succeeds", func() {
			It("should create the owner directory and file", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, "alice", "receipt_1.jpg")).To(BeAnExistingFile())
			})
		})

		When("the path escapes the base directory", func() {
			BeforeEach(func() {
				path = "../outside.jpg"
			})

			It("should reject it", func() {
				Expect(err).To(MatchError(ErrValidation))
				Expect(filepath.Join(filepath.Dir(tmpDir), "outside.jpg")).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("Get", func() {
		var (
			path string
			data []byte
			err  error
		)

		JustBeforeEach(func() {
			data, err = storage.Get(ctx, path)
		})

		When("file exists", func() {
			BeforeEach(func() {
				path = "alice/receipt_1.jpg"
				Expect(storage.Save(ctx, path, []byte("test file content"), "image/jpeg")).To(Succeed())
			})

			It("should return the file data", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("test file content"))
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				path = "alice/nonexistent.jpg"
			})

			It("should return ErrNotFound", func() {
				Expect(err).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("Delete", func() {
		var (
			path string
			err  error
		)

		JustBeforeEach(func() {
			err = storage.Delete(ctx, path)
		})

		When("file exists", func() {
			BeforeEach(func() {
				path = "alice/receipt_1.jpg"
				Expect(storage.Save(ctx, path, []byte("test content"), "image/jpeg")).To(Succeed())
			})

			It("should remove the file from disk", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(filepath.Join(tmpDir, "alice", "receipt_1.jpg")).NotTo(BeAnExistingFile())
			})
		})

		When("file does not exist", func() {
			BeforeEach(func() {
				path = "alice/nonexistent.jpg"
			})

			It("returns the error", func() {
				Expect(err).To(MatchError(ContainSubstring("deleting file")))
			})
		})
	})

	Describe("URL", func() {
		It("should point at the files route", func() {
			Expect(storage.URL("alice/receipt 1.jpg")).To(Equal("http://localhost:8080/files/alice/receipt%201.jpg"))
		})

		It("should map its own URLs back to paths", func() {
			path, ok := storage.PathFromURL("http://localhost:8080/files/alice/receipt%201.jpg")
			Expect(ok).To(BeTrue())
			Expect(path).To(Equal("alice/receipt 1.jpg"))
		})

		It("should not claim foreign URLs", func() {
			_, ok := storage.PathFromURL("https://example.com/files/alice/receipt.jpg")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("NewLocalStorage", func() {
		It("should create a missing directory", func() {
			storagePath := filepath.Join(GinkgoT().TempDir(), "receipts")
			_, err := NewLocalStorage(storagePath, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(storagePath).To(BeADirectory())
		})
	})
})

var _ = Describe("GCSStorage", func() {
	var (
		ctx     context.Context
		server  *ghttp.Server
		storage *GCSStorage
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()
		var err error
		storage, err = NewGCSStorage(ctx, "receipt-images",
			option.WithEndpoint(server.URL()+"/storage/v1/"),
			option.WithoutAuthentication(),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Delete", func() {
		When("the object exists", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodDelete, "/storage/v1/b/receipt-images/o/alice/receipt_1.jpg"),
					ghttp.RespondWith(http.StatusNoContent, nil),
				))
			})

			It("should delete it from the bucket", func() {
				Expect(storage.Delete(ctx, "alice/receipt_1.jpg")).To(Succeed())
				Expect(server.ReceivedRequests()).To(HaveLen(1))
			})
		})

		When("the object is missing", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"error":{"code":404,"message":"No such object"}}`))
			})

			It("should return ErrNotFound", func() {
				Expect(storage.Delete(ctx, "alice/missing.jpg")).To(MatchError(ErrNotFound))
			})
		})
	})

	Describe("URL", func() {
		It("should build the public object URL", func() {
			Expect(storage.URL("alice/receipt_1.jpg")).To(Equal("https://storage.googleapis.com/receipt-images/alice/receipt_1.jpg"))
		})

		It("should map public URLs back to object paths", func() {
			path, ok := storage.PathFromURL("https://storage.googleapis.com/receipt-images/alice/receipt_1.jpg")
			Expect(ok).To(BeTrue())
			Expect(path).To(Equal("alice/receipt_1.jpg"))
		})

		It("should ignore other buckets", func() {
			_, ok := storage.PathFromURL("https://storage.googleapis.com/other/alice/receipt_1.jpg")
			Expect(ok).To(BeFalse())
		})
	})

	It("should require a bucket", func() {
		_, err := NewGCSStorage(ctx, "", option.WithoutAuthentication())
		Expect(err).To(HaveOccurred())
	})
})
