// Package paramstore keeps the metadata tree in AWS Systems Manager
// Parameter Store. Each node is a String parameter named by its path under
// a root prefix; SSM's own hierarchy gives the child listing.
package paramstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/zzenonn/chunkplace/internal/css"
	zerrors "github.com/zzenonn/chunkplace/internal/errors"
)

// API is the part of the SSM client the store uses.
type API interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	ssm.GetParametersByPathAPIClient
}

// Store is a css.MetadataStore over Parameter Store.
type Store struct {
	client API
	prefix string
}

var _ css.MetadataStore = (*Store)(nil)

// New returns a store rooted at prefix, e.g. "/chunkplace".
func New(client API, prefix string) (*Store, error) {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" || css.Validate(prefix) != nil {
		return nil, fmt.Errorf("%w: invalid parameter prefix %q", zerrors.ErrConfiguration, prefix)
	}
	return &Store{client: client, prefix: prefix}, nil
}

func NewFromConfig(cfg aws.Config, prefix string) (*Store, error) {
	return New(ssm.NewFromConfig(cfg), prefix)
}

// Exists reports whether the parameter for path exists.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.Read(ctx, path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, zerrors.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// Read returns the parameter value for path.
func (s *Store) Read(ctx context.Context, path string) (string, error) {
	if err := css.Validate(path); err != nil {
		return "", err
	}
	if path == css.Root {
		return "", nil
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(s.name(path))})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", zerrors.NotFound(path)
		}
		return "", zerrors.Unavailable("get", path, err)
	}
	if out.Parameter == nil {
		return "", zerrors.NotFound(path)
	}
	return decode(aws.ToString(out.Parameter.Value)), nil
}

// Children lists the parameters directly below path.
func (s *Store) Children(ctx context.Context, path string) ([]string, error) {
	if path != css.Root {
		if _, err := s.Read(ctx, path); err != nil {
			return nil, err
		}
	}

	dir := s.name(path)
	paginator := ssm.NewGetParametersByPathPaginator(s.client, &ssm.GetParametersByPathInput{
		Path:      aws.String(dir),
		Recursive: aws.Bool(false),
	})

	var names []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, zerrors.Unavailable("list", path, err)
		}
		for _, p := range page.Parameters {
			child, ok := strings.CutPrefix(aws.ToString(p.Name), dir+"/")
			if ok && child != "" && !strings.Contains(child, "/") {
				names = append(names, child)
			}
		}
	}
	sort.Strings(names)
	return names, nil
}

// Write stores value at path; missing ancestors are created without
// touching existing ones.
func (s *Store) Write(ctx context.Context, path, value string) error {
	if err := css.Validate(path); err != nil {
		return err
	}
	if path == css.Root {
		return fmt.Errorf("cannot write the root node")
	}

	for _, ancestor := range css.Ancestors(path) {
		if err := s.put(ctx, ancestor, "", false); err != nil {
			return err
		}
	}
	return s.put(ctx, path, value, true)
}

func (s *Store) put(ctx context.Context, path, value string, overwrite bool) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.name(path)),
		Value:     aws.String(encode(value)),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *types.ParameterAlreadyExists
		if !overwrite && errors.As(err, &exists) {
			return nil
		}
		return zerrors.Unavailable("put", path, err)
	}
	return nil
}

func (s *Store) name(path string) string {
	if path == css.Root {
		return s.prefix
	}
	return s.prefix + path
}

// Parameter values cannot be empty, so null nodes carry the dump null marker.
func encode(v string) string {
	if v == "" {
		return css.NullValue
	}
	return v
}

func decode(v string) string {
	if v == css.NullValue {
		return ""
	}
	return v
}
