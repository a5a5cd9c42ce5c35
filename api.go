package docpool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const defaultHttpTimeout = 60 * time.Second
const defaultHttpConnectTimeout = 5 * time.Second
const defaultHttpTlsTimeout = 5 * time.Second

func defaultClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: defaultHttpConnectTimeout,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHttpTlsTimeout,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   defaultHttpTimeout,
	}
}

type apiCallback[R any] interface {
	Result(result R, err error)
}

// for internal use
type simpleApiCallback[R any] struct {
	callback func(result R, err error)
}

func NewApiCallback[R any](callback func(result R, err error)) apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: callback,
	}
}

func NewNoopApiCallback[R any]() apiCallback[R] {
	return &simpleApiCallback[R]{
		callback: func(result R, err error) {},
	}
}

func (self *simpleApiCallback[R]) Result(result R, err error) {
	self.callback(result, err)
}

type ApiCallbackResult[R any] struct {
	Result R
	Error  error
}

func NewBlockingApiCallback[R any]() (apiCallback[R], chan ApiCallbackResult[R]) {
	c := make(chan ApiCallbackResult[R])
	apiCallback := NewApiCallback[R](func(result R, err error) {
		c <- ApiCallbackResult[R]{
			Result: result,
			Error:  err,
		}
	})
	return apiCallback, c
}

// graphql wire contract. the query strings are the backend schema boundary.

const getDocumentsQuery = `query GetDocuments {
  documents {
    _id
    title
    content
    code
  }
}`

const getDocumentQuery = `query GetDocument($id: ID!) {
  document(id: $id) {
    _id
    title
    content
    code
  }
}`

const createDocumentMutation = `mutation CreateDocument($title: String!, $content: String, $code: Boolean, $comments: [String]) {
  createDocument(title: $title, content: $content, code: $code, comments: $comments)
}`

const deleteDocumentMutation = `mutation DeleteDocument($id: ID!) {
  deleteDocument(id: $id)
}`

const updateUserMutation = `mutation UpdateUser($username: String, $password: String) {
  updateUser(username: $username, password: $password)
}`

const deleteUserMutation = `mutation DeleteUser {
  deleteUser
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlErrorEntry struct {
	Message string `json:"message"`
}

type graphqlResponse struct {
	Data   json.RawMessage     `json:"data"`
	Errors []graphqlErrorEntry `json:"errors"`
}

// identity claims carried by the auth token.
// parsed unverified, verification is the backend's job.
type ByJwt struct {
	UserId   string
	Username string
}

func ParseByJwtUnverified(byJwtStr string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(byJwtStr, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}
	if userId, ok := claims["user_id"].(string); ok {
		byJwt.UserId = userId
	}
	if username, ok := claims["username"].(string); ok {
		byJwt.Username = username
	}
	return byJwt, nil
}

// the document and account boundary: graphql for queries and most mutations,
// rest for document update and login. the auth token is held in memory only.
type DocpoolApi struct {
	ctx    context.Context
	cancel context.CancelFunc

	apiUrl string

	byJwt string
}

func NewDocpoolApi(apiUrl string) *DocpoolApi {
	return NewDocpoolApiWithContext(context.Background(), apiUrl)
}

func NewDocpoolApiWithContext(ctx context.Context, apiUrl string) *DocpoolApi {
	cancelCtx, cancel := context.WithCancel(ctx)

	return &DocpoolApi{
		ctx:    cancelCtx,
		cancel: cancel,
		apiUrl: apiUrl,
	}
}

// this gets attached to api calls that need it
func (self *DocpoolApi) SetByJwt(byJwt string) {
	self.byJwt = byJwt
}

func (self *DocpoolApi) graphqlUrl() string {
	return fmt.Sprintf("%s/graphql", self.apiUrl)
}

type GetDocumentsCallback apiCallback[*GetDocumentsResult]

type GetDocumentsResult struct {
	Documents []*Document `json:"documents"`
}

func (self *DocpoolApi) GetDocuments(callback GetDocumentsCallback) {
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		getDocumentsQuery,
		nil,
		self.byJwt,
		&GetDocumentsResult{},
		callback,
	)
}

func (self *DocpoolApi) GetDocumentsSync() (*GetDocumentsResult, error) {
	return graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		getDocumentsQuery,
		nil,
		self.byJwt,
		&GetDocumentsResult{},
		NewNoopApiCallback[*GetDocumentsResult](),
	)
}

type GetDocumentCallback apiCallback[*GetDocumentResult]

type GetDocumentResult struct {
	Document *Document `json:"document"`
}

func (self *DocpoolApi) GetDocument(documentId string, callback GetDocumentCallback) {
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		getDocumentQuery,
		map[string]any{"id": documentId},
		self.byJwt,
		&GetDocumentResult{},
		callback,
	)
}

func (self *DocpoolApi) GetDocumentSync(documentId string) (*GetDocumentResult, error) {
	return graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		getDocumentQuery,
		map[string]any{"id": documentId},
		self.byJwt,
		&GetDocumentResult{},
		NewNoopApiCallback[*GetDocumentResult](),
	)
}

type CreateDocumentCallback apiCallback[*CreateDocumentResult]

type CreateDocumentArgs struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Code     bool     `json:"code"`
	Comments []string `json:"comments"`
}

type CreateDocumentResult struct {
	CreateDocument string `json:"createDocument"`
}

func (self *DocpoolApi) CreateDocument(createDocument *CreateDocumentArgs, callback CreateDocumentCallback) {
	comments := createDocument.Comments
	if comments == nil {
		comments = []string{}
	}
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		createDocumentMutation,
		map[string]any{
			"title":    createDocument.Title,
			"content":  createDocument.Content,
			"code":     createDocument.Code,
			"comments": comments,
		},
		self.byJwt,
		&CreateDocumentResult{},
		callback,
	)
}

type DeleteDocumentCallback apiCallback[*DeleteDocumentResult]

type DeleteDocumentResult struct {
	DeleteDocument bool `json:"deleteDocument"`
}

func (self *DocpoolApi) DeleteDocument(documentId string, callback DeleteDocumentCallback) {
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		deleteDocumentMutation,
		map[string]any{"id": documentId},
		self.byJwt,
		&DeleteDocumentResult{},
		callback,
	)
}

type UpdateUserCallback apiCallback[*UpdateUserResult]

type UpdateUserArgs struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

type UpdateUserResult struct {
	UpdateUser bool `json:"updateUser"`
}

func (self *DocpoolApi) UpdateUser(updateUser *UpdateUserArgs, callback UpdateUserCallback) {
	variables := map[string]any{}
	if updateUser.Username != "" {
		variables["username"] = updateUser.Username
	}
	if updateUser.Password != "" {
		variables["password"] = updateUser.Password
	}
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		updateUserMutation,
		variables,
		self.byJwt,
		&UpdateUserResult{},
		callback,
	)
}

type DeleteUserCallback apiCallback[*DeleteUserResult]

type DeleteUserResult struct {
	DeleteUser bool `json:"deleteUser"`
}

func (self *DocpoolApi) DeleteUser(callback DeleteUserCallback) {
	go graphqlPost(
		self.ctx,
		self.graphqlUrl(),
		deleteUserMutation,
		nil,
		self.byJwt,
		&DeleteUserResult{},
		callback,
	)
}

type UpdateDocumentCallback apiCallback[*UpdateDocumentResult]

type UpdateDocumentArgs struct {
	Id      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type UpdateDocumentResult struct {
	Updated bool `json:"updated"`
}

// rest update endpoint. blank title or content is blocked locally before any
// network call.
func (self *DocpoolApi) UpdateDocument(updateDocument *UpdateDocumentArgs, callback UpdateDocumentCallback) {
	go func() {
		if strings.TrimSpace(updateDocument.Title) == "" || strings.TrimSpace(updateDocument.Content) == "" {
			callback.Result(nil, errors.New("title and content must not be empty"))
			return
		}
		restCall(
			self.ctx,
			"PUT",
			fmt.Sprintf("%s/documents/update", self.apiUrl),
			updateDocument,
			self.byJwt,
			&UpdateDocumentResult{},
			callback,
		)
	}()
}

type LoginCallback apiCallback[*LoginResult]

type LoginArgs struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token string `json:"token"`
}

func (self *DocpoolApi) Login(login *LoginArgs, callback LoginCallback) {
	go restCall(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/login", self.apiUrl),
		login,
		"",
		&LoginResult{},
		callback,
	)
}

func (self *DocpoolApi) LoginSync(login *LoginArgs) (*LoginResult, error) {
	return restCall(
		self.ctx,
		"POST",
		fmt.Sprintf("%s/login", self.apiUrl),
		login,
		"",
		&LoginResult{},
		NewNoopApiCallback[*LoginResult](),
	)
}

// graphql errors can arrive with http 200 and must be detected from the
// `errors` array
func graphqlPost[R any](
	ctx context.Context,
	url string,
	query string,
	variables map[string]any,
	byJwt string,
	result R,
	callback apiCallback[R],
) (R, error) {
	requestBodyBytes, err := json.Marshal(graphqlRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	if byJwt != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", byJwt))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	var response graphqlResponse
	if jsonErr := json.Unmarshal(responseBodyBytes, &response); jsonErr == nil && 0 < len(response.Errors) {
		err = errors.New(response.Errors[0].Message)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	if http.StatusOK != r.StatusCode {
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	err = json.Unmarshal(response.Data, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}

func restCall[R any](
	ctx context.Context,
	method string,
	url string,
	args any,
	byJwt string,
	result R,
	callback apiCallback[R],
) (R, error) {
	var requestBodyBytes []byte
	if args == nil {
		requestBodyBytes = make([]byte, 0)
	} else {
		var err error
		requestBodyBytes, err = json.Marshal(args)
		if err != nil {
			var empty R
			callback.Result(empty, err)
			return empty, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	req.Header.Add("Content-Type", "application/json")
	if byJwt != "" {
		req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", byJwt))
	}

	client := defaultClient()
	r, err := client.Do(req)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}
	defer r.Body.Close()

	responseBodyBytes, err := io.ReadAll(r.Body)

	if http.StatusOK != r.StatusCode {
		// the response body is the error message
		errorMessage := strings.TrimSpace(string(responseBodyBytes))
		err = errors.New(errorMessage)
		callback.Result(result, err)
		return result, err
	}

	if err != nil {
		callback.Result(result, err)
		return result, err
	}

	err = json.Unmarshal(responseBodyBytes, &result)
	if err != nil {
		var empty R
		callback.Result(empty, err)
		return empty, err
	}

	callback.Result(result, nil)
	return result, nil
}
