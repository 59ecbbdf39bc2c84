package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-tracker/internal/report"
	"github.com/zombor/receipt-tracker/internal/spending"
)

type formFile struct {
	name        string
	contentType string
	data        []byte
}

// multipartBody builds a multipart body with the given fields and an optional file
func multipartBody(fields map[string]string, file *formFile) (*bytes.Buffer, string) {
	var b bytes.Buffer
	writer := multipart.NewWriter(&b)
	for k, v := range fields {
		Expect(writer.WriteField(k, v)).To(Succeed())
	}
	if file != nil {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="file"; filename="`+file.name+`"`)
		if file.contentType != "" {
			header.Set("Content-Type", file.contentType)
		}
		part, err := writer.CreatePart(header)
		Expect(err).NotTo(HaveOccurred())
		part.Write(file.data)
	}
	Expect(writer.Close()).To(Succeed())
	return &b, writer.FormDataContentType()
}

func decodeBody(resp *http.Response, v any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	Expect(json.Unmarshal(body, v)).To(Succeed(), string(body))
}

func errorMessage(resp *http.Response) string {
	var body map[string]string
	decodeBody(resp, &body)
	return body["error"]
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		scanner     *mockScanner
		service     *Service
		server      *Server
		auth        Auth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, scanner, storage, nil, &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)})
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP, server.ServeHTTP, server.ServeHTTP)
	}

	do := func(method, path string, body io.Reader, contentType string) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	doJSON := func(method, path, body string) *http.Response {
		return do(method, path, strings.NewReader(body), "application/json")
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		scanner = newMockScanner()
		auth = Auth{DefaultOwner: "alice"}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("health", func() {
		BeforeEach(func() {
			auth = Auth{Username: "alice", Password: "secret"}
		})

		It("should not require credentials", func() {
			resp := do("GET", "/healthz", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			resp := do("OPTIONS", "/api/receipts", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
			Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(ContainSubstring("PUT"))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("a1", "alice", testDate(2024, 3, 1), 100, spending.Food))
			db.put(newTestReceipt("b1", "bob", testDate(2024, 3, 1), 200, spending.Gas))
		})

		When("basic auth is configured", func() {
			BeforeEach(func() {
				auth = Auth{Username: "alice", Password: "secret"}
			})

			It("should reject requests without credentials", func() {
				resp := do("GET", "/api/receipts", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
			})

			It("should reject wrong credentials", func() {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				req.SetBasicAuth("alice", "wrong")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})

			It("should scope requests to the username", func() {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				req.SetBasicAuth("alice", "secret")
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipts []*Receipt
				decodeBody(resp, &receipts)
				Expect(receiptIDs(receipts)).To(Equal([]string{"a1"}))
			})
		})

		When("bearer tokens are configured", func() {
			var sign func(secret string, method jwt.SigningMethod) string

			BeforeEach(func() {
				auth = Auth{JWTSecret: "signing-key"}
				sign = func(secret string, method jwt.SigningMethod) string {
					token := jwt.NewWithClaims(method, jwt.RegisteredClaims{
						Subject:   "bob",
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
					})
					signed, err := token.SignedString([]byte(secret))
					Expect(err).NotTo(HaveOccurred())
					return signed
				}
			})

			get := func(token string) *http.Response {
				req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/receipts", nil)
				req.Header.Set("Authorization", "Bearer "+token)
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				return resp
			}

			It("should use the subject as owner", func() {
				resp := get(sign("signing-key", jwt.SigningMethodHS256))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipts []*Receipt
				decodeBody(resp, &receipts)
				Expect(receiptIDs(receipts)).To(Equal([]string{"b1"}))
			})

			It("should reject tokens signed with another key", func() {
				resp := get(sign("other-key", jwt.SigningMethodHS256))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})

			It("should reject other signing methods", func() {
				resp := get(sign("signing-key", jwt.SigningMethodHS512))
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			})
		})

		When("nothing is configured", func() {
			BeforeEach(func() {
				auth = Auth{}
			})

			It("should act for the default owner", func() {
				db.put(newTestReceipt("d1", DefaultOwner, testDate(2024, 3, 1), 100, spending.Food))

				resp := do("GET", "/api/receipts", nil, "")
				var receipts []*Receipt
				decodeBody(resp, &receipts)
				Expect(receiptIDs(receipts)).To(Equal([]string{"d1"}))
			})
		})
	})

	Describe("POST /api/receipts/scan", func() {
		It("should return the extracted draft", func() {
			body, ct := multipartBody(nil, &formFile{name: "cafe.jpg", contentType: "image/jpeg", data: []byte("jpg")})
			resp := do("POST", "/api/receipts/scan", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var draft Draft
			decodeBody(resp, &draft)
			Expect(draft.Vendor).To(Equal("Corner Cafe"))
			Expect(draft.Amount).To(Equal(int64(2599)))
			Expect(draft.ImageRef).To(Equal("alice/id-1_cafe.jpg"))
		})

		It("should detect the type from the extension", func() {
			body, ct := multipartBody(nil, &formFile{name: "scan.pdf", contentType: "application/octet-stream", data: []byte("%PDF")})
			resp := do("POST", "/api/receipts/scan", body, ct)
			var draft Draft
			decodeBody(resp, &draft)
			Expect(draft.ContentType).To(Equal("application/pdf"))
		})

		When("extraction fails", func() {
			BeforeEach(func() {
				scanner.scanErr = errors.New("model overloaded")
			})

			It("should still return the draft with the error", func() {
				body, ct := multipartBody(nil, &formFile{name: "cafe.jpg", contentType: "image/jpeg", data: []byte("jpg")})
				resp := do("POST", "/api/receipts/scan", body, ct)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var draft Draft
				decodeBody(resp, &draft)
				Expect(draft.ExtractionError).To(ContainSubstring("model overloaded"))
				Expect(draft.ImageRef).NotTo(BeEmpty())
			})
		})

		It("should require a file", func() {
			body, ct := multipartBody(map[string]string{"vendor": "x"}, nil)
			resp := do("POST", "/api/receipts/scan", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(resp)).To(ContainSubstring("no file was selected"))
		})

		It("should reject unsupported files", func() {
			body, ct := multipartBody(nil, &formFile{name: "notes.txt", contentType: "text/plain", data: []byte("hello")})
			resp := do("POST", "/api/receipts/scan", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(resp)).To(ContainSubstring("unsupported file type"))
		})
	})

	Describe("POST /api/receipts", func() {
		It("should create a receipt from JSON", func() {
			resp := doJSON("POST", "/api/receipts", `{"date":"2024-03-15","time":"12:05","amount":12500,"category":"travel","vendor":"Delta"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.ID).To(Equal("id-1"))
			Expect(receipt.Category).To(Equal(spending.Travel))
			Expect(receipt.Date.String()).To(Equal("2024-03-15"))
			Expect(db.receipts).To(HaveKey(ownerKey("alice", "id-1")))
		})

		It("should create a receipt from a form with an image", func() {
			body, ct := multipartBody(map[string]string{
				"date":     "2024-03-15",
				"amount":   "4550",
				"category": "GAS",
				"vendor":   "Shell",
			}, &formFile{name: "gas.png", contentType: "image/png", data: []byte("png")})
			resp := do("POST", "/api/receipts", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var created map[string]any
			decodeBody(resp, &created)
			Expect(created["image_ref"]).To(Equal("alice/id-1_gas.png"))
			Expect(created["image_url"]).To(Equal("http://files.test/files/alice/id-1_gas.png"))
			Expect(created["amount"]).To(BeNumerically("==", 4550))
		})

		It("should reject an unknown category", func() {
			resp := doJSON("POST", "/api/receipts", `{"amount":100,"category":"BOGUS"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(resp)).NotTo(BeEmpty())
			Expect(db.receipts).To(BeEmpty())
		})

		It("should reject a missing category", func() {
			resp := doJSON("POST", "/api/receipts", `{"amount":100}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(resp)).To(ContainSubstring("category is required"))
		})

		It("should reject a non-numeric form amount", func() {
			body, ct := multipartBody(map[string]string{"amount": "12.50", "category": "FOOD"}, nil)
			resp := do("POST", "/api/receipts", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.saveErr = errors.New("disk full")
			})

			It("should hide the cause", func() {
				resp := doJSON("POST", "/api/receipts", `{"amount":100,"category":"FOOD"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorMessage(resp)).To(Equal("Internal server error"))
			})
		})
	})

	Describe("GET /api/receipts", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("feb", "alice", testDate(2024, 2, 29), 100, spending.Food))
			db.put(newTestReceipt("mar", "alice", testDate(2024, 3, 1), 100, spending.Food))
		})

		It("should return all receipts newest first", func() {
			resp := do("GET", "/api/receipts", nil, "")
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			var receipts []*Receipt
			decodeBody(resp, &receipts)
			Expect(receiptIDs(receipts)).To(Equal([]string{"mar", "feb"}))
		})

		It("should filter by month", func() {
			resp := do("GET", "/api/receipts?year=2024&month=2", nil, "")
			var receipts []*Receipt
			decodeBody(resp, &receipts)
			Expect(receiptIDs(receipts)).To(Equal([]string{"feb"}))
		})

		It("should return an empty array for an empty month", func() {
			resp := do("GET", "/api/receipts?year=2023&month=1", nil, "")
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should reject an invalid month", func() {
			resp := do("GET", "/api/receipts?year=2024&month=13", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("service error")
			})

			It("should return status Internal Server Error", func() {
				resp := do("GET", "/api/receipts", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(errorMessage(resp)).To(Equal("Internal server error"))
			})
		})
	})

	Describe("single receipt routes", func() {
		BeforeEach(func() {
			r := newTestReceipt("r1", "alice", testDate(2024, 3, 5), 1000, spending.Food)
			r.ImageRef = "alice/r1.jpg"
			db.put(r)
			storage.files["alice/r1.jpg"] = []byte("jpeg bytes")
			db.put(newTestReceipt("b1", "bob", testDate(2024, 3, 5), 1000, spending.Food))
		})

		It("should return a receipt with its image URL", func() {
			resp := do("GET", "/api/receipts/r1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]any
			decodeBody(resp, &body)
			Expect(body["image_url"]).To(Equal("http://files.test/files/alice/r1.jpg"))
		})

		It("should not reveal other owners' receipts", func() {
			resp := do("GET", "/api/receipts/b1", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(errorMessage(resp)).To(Equal("Receipt not found"))
		})

		It("should update fields with a JSON patch", func() {
			resp := doJSON("PUT", "/api/receipts/r1", `{"category":"OTHER","notes":"team lunch"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.Category).To(Equal(spending.Other))
			Expect(receipt.Notes).To(Equal("team lunch"))
			Expect(receipt.Amount).To(Equal(int64(1000)))
		})

		It("should replace the image with a multipart update", func() {
			body, ct := multipartBody(map[string]string{"amount": "1200"},
				&formFile{name: "new.jpg", contentType: "image/jpeg", data: []byte("new")})
			resp := do("PUT", "/api/receipts/r1", body, ct)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var receipt Receipt
			decodeBody(resp, &receipt)
			Expect(receipt.Amount).To(Equal(int64(1200)))
			Expect(receipt.ImageRef).To(Equal("alice/id-1_new.jpg"))
			Expect(storage.files).NotTo(HaveKey("alice/r1.jpg"))
		})

		It("should return 404 when updating a missing receipt", func() {
			resp := doJSON("PUT", "/api/receipts/missing", `{"notes":"x"}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should delete a receipt", func() {
			resp := do("DELETE", "/api/receipts/r1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(db.receipts).NotTo(HaveKey(ownerKey("alice", "r1")))
		})

		It("should return 404 when deleting another owner's receipt", func() {
			resp := do("DELETE", "/api/receipts/b1", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(db.receipts).To(HaveKey(ownerKey("bob", "b1")))
		})

		It("should serve the stored image", func() {
			resp := do("GET", "/api/receipts/r1/image", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("image/jpeg"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(Equal("jpeg bytes"))
		})

		It("should redirect to external images", func() {
			db.receipts[ownerKey("alice", "r1")].ImageRef = "https://images.example.com/r1.jpg"

			client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			}}
			resp, err := client.Get(ghttpServer.URL() + "/api/receipts/r1/image")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusFound))
			Expect(resp.Header.Get("Location")).To(Equal("https://images.example.com/r1.jpg"))
		})

		It("should serve owned files", func() {
			resp := do("GET", "/files/alice/r1.jpg", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should hide files of other owners", func() {
			storage.files["bob/b1.jpg"] = []byte("bob")
			resp := do("GET", "/files/bob/b1.jpg", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("POST /api/receipts/batch-delete", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("a", "alice", testDate(2024, 3, 1), 100, spending.Food))
			db.put(newTestReceipt("b", "alice", testDate(2024, 3, 2), 100, spending.Food))
		})

		It("should delete the selected receipts", func() {
			resp := doJSON("POST", "/api/receipts/batch-delete", `{"ids":["a","b","gone"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var body map[string]int
			decodeBody(resp, &body)
			Expect(body["deleted"]).To(Equal(2))
		})

		It("should require a selection", func() {
			resp := doJSON("POST", "/api/receipts/batch-delete", `{"ids":[]}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /api/summary", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("f", "alice", testDate(2024, 3, 2), 2499, spending.Food))
			db.put(newTestReceipt("g", "alice", testDate(2024, 3, 10), 4550, spending.Gas))
			db.put(newTestReceipt("t", "alice", testDate(2024, 3, 15), 12500, spending.Travel))
		})

		It("should summarize the requested month", func() {
			resp := do("GET", "/api/summary?year=2024&month=3", nil, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				TotalSpent    int64  `json:"total_spent"`
				ReceiptCount  int    `json:"receipt_count"`
				Highest       string `json:"highest_category"`
				ChangeDisplay string `json:"previous_month_change_display"`
				Categories    []struct {
					Category   string  `json:"category"`
					Percentage float64 `json:"percentage"`
				} `json:"categories"`
			}
			decodeBody(resp, &body)
			Expect(body.TotalSpent).To(Equal(int64(19549)))
			Expect(body.ReceiptCount).To(Equal(3))
			Expect(body.Highest).To(Equal("TRAVEL"))
			Expect(body.ChangeDisplay).To(Equal("+100.0%"))
			Expect(body.Categories).To(HaveLen(4))
			Expect(body.Categories[2].Category).To(Equal("TRAVEL"))
			Expect(body.Categories[2].Percentage).To(Equal(63.9))
		})

		It("should default to the current month", func() {
			resp := do("GET", "/api/summary", nil, "")
			var body struct {
				Period spending.Period `json:"period"`
			}
			decodeBody(resp, &body)
			Expect(body.Period).To(Equal(spending.Period{Year: 2024, Month: time.March}))
		})

		When("the previous month fails to load", func() {
			BeforeEach(func() {
				db.listBetweenErr = func(start time.Time) error {
					if start.Month() == time.February {
						return errors.New("timeout")
					}
					return nil
				}
			})

			It("should report N/A", func() {
				resp := do("GET", "/api/summary?year=2024&month=3", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body map[string]any
				decodeBody(resp, &body)
				Expect(body["previous_month_change"]).To(BeNil())
				Expect(body["previous_month_change_display"]).To(Equal("N/A"))
			})
		})
	})

	Describe("GET /api/reports", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("f", "alice", testDate(2024, 3, 2), 2499, spending.Food))
		})

		It("should render HTML by default", func() {
			resp := do("GET", "/api/reports?year=2024&month=3", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(report.ContentTypeHTML))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(ContainSubstring("March 2024"))
		})

		It("should export a workbook", func() {
			resp := do("GET", "/api/reports?year=2024&month=3&format=xlsx", nil, "")
			defer resp.Body.Close()
			Expect(resp.Header.Get("Content-Type")).To(Equal(report.ContentTypeXLSX))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("spending-2024-03.xlsx"))
		})

		It("should return JSON", func() {
			resp := do("GET", "/api/reports?year=2024&month=3&format=json", nil, "")
			var data report.Data
			decodeBody(resp, &data)
			Expect(data.Lines).To(HaveLen(1))
			Expect(data.Summary.TotalSpent).To(Equal(int64(2499)))
		})

		It("should reject unknown formats", func() {
			resp := do("GET", "/api/reports?format=pdf", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("submissions", func() {
		BeforeEach(func() {
			db.put(newTestReceipt("a", "alice", testDate(2024, 3, 1), 1000, spending.Food))
			db.put(newTestReceipt("b", "alice", testDate(2024, 3, 2), 2500, spending.Gas))
		})

		It("should create a submission", func() {
			resp := doJSON("POST", "/api/submissions", `{"receipt_ids":["a","b"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var submission Submission
			decodeBody(resp, &submission)
			Expect(submission.TotalAmount).To(Equal(int64(3500)))
		})

		It("should reject receipts that are already submitted", func() {
			db.receipts[ownerKey("alice", "a")].SubmissionID = "earlier"
			resp := doJSON("POST", "/api/submissions", `{"receipt_ids":["a"]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorMessage(resp)).To(ContainSubstring("already submitted"))
		})

		It("should return 404 for unknown receipts", func() {
			resp := doJSON("POST", "/api/submissions", `{"receipt_ids":["nope"]}`)
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("a submission exists", func() {
			BeforeEach(func() {
				db.submissions[ownerKey("alice", "s1")] = &Submission{
					ID: "s1", Owner: "alice", ReceiptIDs: []string{"a", "b"}, TotalAmount: 3500,
					CreatedAt: time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
				}
			})

			It("should return it with its receipts", func() {
				resp := do("GET", "/api/submissions/s1", nil, "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				var body struct {
					Submission Submission `json:"submission"`
					Receipts   []*Receipt `json:"receipts"`
				}
				decodeBody(resp, &body)
				Expect(body.Submission.ID).To(Equal("s1"))
				Expect(body.Receipts).To(HaveLen(2))
			})

			It("should list it", func() {
				resp := do("GET", "/api/submissions", nil, "")
				var submissions []*Submission
				decodeBody(resp, &submissions)
				Expect(submissions).To(HaveLen(1))
			})

			It("should render its report", func() {
				resp := do("GET", "/api/submissions/s1/report", nil, "")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				body, _ := io.ReadAll(resp.Body)
				Expect(string(body)).To(ContainSubstring("Expense Submission 2024-03-20"))
			})
		})

		It("should return an empty list when there are none", func() {
			resp := do("GET", "/api/submissions", nil, "")
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
		})

		It("should return 404 for another owner's submission", func() {
			db.submissions[ownerKey("bob", "s2")] = &Submission{ID: "s2", Owner: "bob"}
			resp := do("GET", "/api/submissions/s2", nil, "")
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})
})
