// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"context"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/suite"
)

type baseTestSuite struct {
	suite.Suite
	Store Store
}

func (suite *baseTestSuite) write(name, content string) {
	ctx := context.Background()
	w, err := suite.Store.Create(ctx, name)
	suite.Require().NoError(err)
	_, err = io.WriteString(w, content)
	suite.Require().NoError(err)
	suite.Require().NoError(w.Close())
}

func (suite *baseTestSuite) read(name string) (string, error) {
	r, err := suite.Store.Open(context.Background(), name)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	return string(data), err
}

func (suite *baseTestSuite) TestRoundTrip() {
	suite.write("round_trip", "hello world")
	content, err := suite.read("round_trip")
	suite.NoError(err)
	suite.Equal("hello world", content)

	// overwrite
	suite.write("round_trip", "goodbye")
	content, err = suite.read("round_trip")
	suite.NoError(err)
	suite.Equal("goodbye", content)

	suite.NoError(suite.Store.Remove(context.Background(), "round_trip"))
	_, err = suite.read("round_trip")
	suite.True(errors.Is(err, ErrObjectNotExist))
}

func (suite *baseTestSuite) TestNotExist() {
	_, err := suite.read("not_exist")
	suite.True(errors.Is(err, ErrObjectNotExist))
	suite.NoError(suite.Store.Remove(context.Background(), "not_exist"))
}

func (suite *baseTestSuite) TestAbort() {
	suite.write("abort", "old")
	w, err := suite.Store.Create(context.Background(), "abort")
	suite.Require().NoError(err)
	_, err = io.WriteString(w, "partial")
	suite.NoError(err)
	w.Abort(errors.New("interrupted"))
	content, err := suite.read("abort")
	suite.NoError(err)
	suite.Equal("old", content)
}

func (suite *baseTestSuite) TestLock() {
	ctx := context.Background()
	ok, err := suite.Store.TryLock(ctx, "lock", time.Minute)
	suite.NoError(err)
	suite.True(ok)
	ok, err = suite.Store.TryLock(ctx, "lock", time.Minute)
	suite.NoError(err)
	suite.False(ok)

	err = Lock(ctx, suite.Store, "lock", time.Minute, 300*time.Millisecond)
	suite.True(errors.Is(err, ErrLockTimeout))

	suite.NoError(suite.Store.Unlock(ctx, "lock"))
	suite.NoError(Lock(ctx, suite.Store, "lock", time.Minute, time.Second))
	suite.NoError(suite.Store.Unlock(ctx, "lock"))
}
